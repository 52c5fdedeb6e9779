package store

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/talkincode/wagate/internal/dispatch"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/pkg/phone"
	"gorm.io/gorm"
)

// CustomerSource resolves recipient ids against the customer table.
// Read-only.
type CustomerSource struct {
	db *gorm.DB
}

func NewCustomerSource(db *gorm.DB) *CustomerSource {
	return &CustomerSource{db: db}
}

// ResolveRecipients returns exactly one task per requested id, in
// input order. Unknown ids come back with NotFound set; the dispatcher
// counts them as failed without a send attempt.
func (s *CustomerSource) ResolveRecipients(ctx context.Context, tenant string, ids []string) ([]dispatch.RecipientTask, error) {
	var rows []domain.SysCustomer
	if len(ids) > 0 {
		if err := s.db.WithContext(ctx).
			Where("tenant_id = ? AND id IN ?", tenant, ids).
			Find(&rows).Error; err != nil {
			return nil, errors.Wrap(err, "customer lookup")
		}
	}

	byID := make(map[string]domain.SysCustomer, len(rows))
	for _, c := range rows {
		byID[idString(c.ID)] = c
	}

	tasks := make([]dispatch.RecipientTask, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			tasks = append(tasks, dispatch.RecipientTask{RecipientID: id, NotFound: true})
			continue
		}
		task := dispatch.RecipientTask{
			RecipientID: id,
			Name:        c.Name,
		}
		if jid := phone.JID(c.Phone); jid != "" {
			task.Addresses = append(task.Addresses, jid)
		}
		if jid := phone.JID(c.AltPhone); jid != "" {
			task.Addresses = append(task.Addresses, jid)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// idString matches the ,string encoding customer ids use on the wire.
func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
