package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/caio-sobreiro/pacsnode/interfaces"
	"github.com/caio-sobreiro/pacsnode/types"
)

// DialOpener opens one-shot outbound store sessions for the retrieve
// orchestrator. Each session is a fresh association that carries a single
// C-STORE and is then released.
type DialOpener struct {
	CallingAETitle string
	Logger         *slog.Logger
}

// Open establishes an association with the destination, proposing the given
// capabilities (SOP class UIDs) as abstract syntaxes.
func (o *DialOpener) Open(ctx context.Context, host string, port int, calledAETitle string, capabilities []string) (interfaces.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	assoc, err := Connect(net.JoinHostPort(host, strconv.Itoa(port)), Config{
		CallingAETitle:   o.CallingAETitle,
		CalledAETitle:    calledAETitle,
		AbstractSyntaxes: capabilities,
		Logger:           o.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &storeSession{assoc: assoc}, nil
}

type storeSession struct {
	assoc *Association
}

// SendInstance transfers the payload over C-STORE and returns the peer's
// response status.
func (s *storeSession) SendInstance(instance *types.StoredInstance, payload []byte) (uint16, error) {
	resp, err := s.assoc.SendCStore(&CStoreRequest{
		SOPClassUID:    instance.SOPClassUID,
		SOPInstanceUID: instance.SOPInstanceUID,
		Data:           payload,
		MessageID:      1,
	})
	if err != nil {
		return 0, fmt.Errorf("store %s: %w", instance.SOPInstanceUID, err)
	}
	return resp.Status, nil
}

func (s *storeSession) Close() error {
	return s.assoc.Close()
}
