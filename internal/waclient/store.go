// Package waclient adapts the whatsmeow client library to the
// session-layer ports: credential storage backed by the application
// database and a dialer producing supervised connection handles.
package waclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/talkincode/wagate/internal/session"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// deviceMarker tags whatsmeow device rows with our session key so they
// can be found again across restarts.
func deviceMarker(key session.Key) string {
	return "wagate:" + key.String()
}

// Store wraps the whatsmeow sqlstore container. It reuses the
// application's database connection so device tables live alongside
// the rest of the schema.
type Store struct {
	container *sqlstore.Container
}

var _ session.CredentialStore = (*Store)(nil)

func NewStore(gdb *gorm.DB, dbType string) (*Store, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, errors.Wrap(err, "obtain sql.DB from gorm")
	}

	driver := "postgres"
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "sqlite", "sqlite3":
		driver = "sqlite3"
	case "postgres", "postgresql", "":
		driver = "postgres"
	}

	container := sqlstore.NewWithDB(sqlDB, driver, nil)
	if err := container.Upgrade(); err != nil {
		return nil, errors.Wrap(err, "sqlstore upgrade")
	}
	zap.L().Info("waclient: device store ready", zap.String("driver", driver))
	return &Store{container: container}, nil
}

// Load returns the stored device for the key, creating empty material
// on first use rather than failing.
func (s *Store) Load(ctx context.Context, key session.Key) (*session.Credentials, error) {
	marker := deviceMarker(key)
	dev, err := s.findDevice(ctx, marker)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		dev = s.container.NewDevice()
		dev.BusinessName = marker
		dev.PushName = key.Session
		zap.L().Info("waclient: provisioned empty device",
			zap.String("key", key.String()))
	}
	return &session.Credentials{Ref: marker, State: dev}, nil
}

// Save persists the device. Devices without a final JID cannot be
// stored yet; that is not an error, pairing completion will retry.
func (s *Store) Save(ctx context.Context, key session.Key, creds *session.Credentials) error {
	dev, ok := creds.State.(*store.Device)
	if !ok || dev == nil {
		return fmt.Errorf("waclient: unexpected credential state %T", creds.State)
	}
	if dev.ID == nil {
		zap.L().Debug("waclient: skipping save for unpaired device",
			zap.String("key", key.String()))
		return nil
	}
	if dev.BusinessName == "" {
		dev.BusinessName = creds.Ref
	}
	if err := s.container.PutDevice(dev); err != nil {
		return errors.Wrap(err, "put device")
	}
	return nil
}

// Purge deletes the stored device for the key; called when the user
// logged out or the device was revoked remotely.
func (s *Store) Purge(ctx context.Context, key session.Key) error {
	dev, err := s.findDevice(ctx, deviceMarker(key))
	if err != nil {
		return err
	}
	if dev == nil {
		return nil
	}
	if err := s.container.DeleteDevice(dev); err != nil {
		return errors.Wrap(err, "delete device")
	}
	zap.L().Info("waclient: purged device credentials",
		zap.String("key", key.String()))
	return nil
}

func (s *Store) findDevice(ctx context.Context, marker string) (*store.Device, error) {
	devices, err := s.container.GetAllDevices()
	if err != nil {
		return nil, errors.Wrap(err, "list devices")
	}
	for _, d := range devices {
		if d != nil && d.BusinessName == marker {
			return d, nil
		}
	}
	return nil, nil
}
