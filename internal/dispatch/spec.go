package dispatch

import (
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// MessageSpec describes what to send to each recipient. Body and
// Bodies may be combined; the effective list preserves order.
type MessageSpec struct {
	Body   string   `mapstructure:"body" json:"body"`
	Bodies []string `mapstructure:"bodies" json:"bodies"`
}

// DecodeMessageSpec decodes the loosely-typed message payload accepted
// at the API boundary.
func DecodeMessageSpec(raw map[string]interface{}) (MessageSpec, error) {
	var spec MessageSpec
	if err := mapstructure.Decode(raw, &spec); err != nil {
		return spec, errors.Wrap(err, "invalid message spec")
	}
	if len(spec.EffectiveBodies()) == 0 {
		return spec, errors.New("message spec requires a body")
	}
	return spec, nil
}

// EffectiveBodies returns the ordered, non-empty message bodies.
func (m MessageSpec) EffectiveBodies() []string {
	out := make([]string, 0, len(m.Bodies)+1)
	if strings.TrimSpace(m.Body) != "" {
		out = append(out, m.Body)
	}
	for _, b := range m.Bodies {
		if strings.TrimSpace(b) != "" {
			out = append(out, b)
		}
	}
	return out
}

// Render substitutes the recipient placeholders supported by message
// templates: {name} and {phone}.
func Render(body, name, phone string) string {
	r := strings.NewReplacer("{name}", name, "{phone}", phone)
	return r.Replace(body)
}
