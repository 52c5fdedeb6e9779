package waclient

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/talkincode/wagate/internal/session"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// Dialer opens whatsmeow connections from stored device material. It
// disables the library's own reconnect loop; the supervisor owns that
// decision.
type Dialer struct{}

func NewDialer() *Dialer { return &Dialer{} }

var _ session.Dialer = (*Dialer)(nil)

func (d *Dialer) Open(ctx context.Context, key session.Key, creds *session.Credentials, sink func(session.Event)) (session.Handle, error) {
	dev, ok := creds.State.(*store.Device)
	if !ok || dev == nil {
		return nil, fmt.Errorf("waclient: unexpected credential state %T", creds.State)
	}

	cli := whatsmeow.NewClient(dev, nil)
	cli.EnableAutoReconnect = false
	cli.AddEventHandler(func(evt interface{}) {
		translate(key, evt, sink)
	})

	// GetQRChannel must be requested before Connect and only makes
	// sense for devices that never completed pairing.
	if dev.ID == nil {
		qrChan, err := cli.GetQRChannel(context.Background())
		if err != nil {
			if !errors.Is(err, whatsmeow.ErrQRStoreContainsID) {
				return nil, errors.Wrap(err, "qr channel")
			}
		} else {
			go pumpQR(key, qrChan, sink)
		}
	}

	if err := cli.Connect(); err != nil {
		return nil, errors.Wrap(err, "whatsmeow connect")
	}
	return &clientHandle{cli: cli}, nil
}

func pumpQR(key session.Key, ch <-chan whatsmeow.QRChannelItem, sink func(session.Event)) {
	for item := range ch {
		switch item.Event {
		case "code":
			sink(session.Event{Kind: session.KindPairing, QR: item.Code})
		case "success":
			// Connected event follows through the main handler.
		case "timeout":
			sink(session.Event{Kind: session.KindClosed, Detail: "pairing timed out"})
		default:
			zap.L().Warn("waclient: qr channel event",
				zap.String("key", key.String()),
				zap.String("event", item.Event))
		}
	}
}

func translate(key session.Key, raw interface{}, sink func(session.Event)) {
	switch evt := raw.(type) {
	case *events.Connected:
		sink(session.Event{Kind: session.KindOpened})
	case *events.LoggedOut:
		sink(session.Event{
			Kind:      session.KindClosed,
			LoggedOut: true,
			Code:      int(evt.Reason),
			Detail:    "logged out from phone",
		})
	case *events.StreamReplaced:
		sink(session.Event{
			Kind:    session.KindClosed,
			Revoked: true,
			Detail:  "stream replaced by another client",
		})
	case *events.TemporaryBan:
		sink(session.Event{
			Kind:   session.KindClosed,
			Code:   429,
			Detail: evt.String(),
		})
	case *events.ConnectFailure:
		sink(session.Event{
			Kind:   session.KindClosed,
			Code:   int(evt.Reason),
			Detail: evt.Message,
		})
	case *events.StreamError:
		code, _ := strconv.Atoi(evt.Code)
		sink(session.Event{
			Kind:   session.KindClosed,
			Code:   code,
			Detail: "stream error " + evt.Code,
		})
	case *events.Disconnected:
		sink(session.Event{Kind: session.KindClosed, Detail: "transport disconnected"})
	case *events.ClientOutdated:
		sink(session.Event{Kind: session.KindClosed, Detail: "client version rejected"})
	case *events.Message:
		sink(session.Event{
			Kind:   session.KindMessage,
			Sender: evt.Info.Sender.String(),
			Body:   messageBody(evt.Message),
		})
	default:
		_ = key
	}
}

func messageBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if loc := msg.GetLocationMessage(); loc != nil {
		return fmt.Sprintf("location: %f,%f", loc.GetDegreesLatitude(), loc.GetDegreesLongitude())
	}
	return ""
}

// clientHandle is the supervised view over one live whatsmeow client.
type clientHandle struct {
	cli *whatsmeow.Client
}

var _ session.Handle = (*clientHandle)(nil)

func (h *clientHandle) Send(ctx context.Context, address, body string) error {
	jid, err := types.ParseJID(address)
	if err != nil {
		return errors.Wrap(err, "parse jid")
	}
	msg := &waE2E.Message{Conversation: proto.String(body)}
	if _, err := h.cli.SendMessage(ctx, jid, msg); err != nil {
		return errors.Wrap(err, "send message")
	}
	return nil
}

// Ping writes a presence frame; a dead socket fails immediately, which
// is all the health check needs.
func (h *clientHandle) Ping(ctx context.Context) error {
	if !h.cli.IsConnected() {
		return session.ErrNotConnected
	}
	return h.cli.SendPresence(types.PresenceAvailable)
}

func (h *clientHandle) Alive() bool {
	return h.cli.IsConnected() && h.cli.IsLoggedIn()
}

func (h *clientHandle) JID() string {
	if h.cli.Store != nil && h.cli.Store.ID != nil {
		return h.cli.Store.ID.String()
	}
	return ""
}

func (h *clientHandle) Close() error {
	h.cli.Disconnect()
	return nil
}
