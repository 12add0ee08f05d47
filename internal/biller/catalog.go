/**
 * @description
 * The biller catalog is the only place in the service where a biller name is
 * compared as a string. It resolves names to one of the four fixed biller
 * variants, each owning its wire adapter and 3DS capability flag, so the
 * orchestration core dispatches through the Biller interface and never
 * branches on a name.
 */

package biller

import (
	"fmt"

	"github.com/velora/purchase-service/internal/domain"
)

// Biller is one of the four supported payment-processor backends.
type Biller interface {
	Name() domain.BillerName
	SupportsThreeD() bool
	Adapter() WireAdapter
}

type rocketgateBiller struct{ adapter WireAdapter }

func (b rocketgateBiller) Name() domain.BillerName { return domain.BillerRocketgate }
func (b rocketgateBiller) SupportsThreeD() bool    { return true }
func (b rocketgateBiller) Adapter() WireAdapter    { return b.adapter }

type netbillingBiller struct{ adapter WireAdapter }

func (b netbillingBiller) Name() domain.BillerName { return domain.BillerNetbilling }
func (b netbillingBiller) SupportsThreeD() bool    { return true }
func (b netbillingBiller) Adapter() WireAdapter    { return b.adapter }

type epochBiller struct{ adapter WireAdapter }

func (b epochBiller) Name() domain.BillerName { return domain.BillerEpoch }
func (b epochBiller) SupportsThreeD() bool    { return false }
func (b epochBiller) Adapter() WireAdapter    { return b.adapter }

type qyssoBiller struct{ adapter WireAdapter }

func (b qyssoBiller) Name() domain.BillerName { return domain.BillerQysso }
func (b qyssoBiller) SupportsThreeD() bool    { return false }
func (b qyssoBiller) Adapter() WireAdapter    { return b.adapter }

// Catalog is the static registry of supported billers.
type Catalog struct {
	byName map[domain.BillerName]Biller
}

// NewCatalog wires the four billers with their adapters.
func NewCatalog(rocketgate, netbilling, epoch, qysso WireAdapter) *Catalog {
	return &Catalog{
		byName: map[domain.BillerName]Biller{
			domain.BillerRocketgate: rocketgateBiller{adapter: rocketgate},
			domain.BillerNetbilling: netbillingBiller{adapter: netbilling},
			domain.BillerEpoch:      epochBiller{adapter: epoch},
			domain.BillerQysso:      qyssoBiller{adapter: qysso},
		},
	}
}

// ByName resolves a known biller name to its variant.
func (c *Catalog) ByName(name domain.BillerName) (Biller, error) {
	b, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownBillerName, name)
	}
	return b, nil
}

// Parse resolves a raw name string to its biller variant.
func (c *Catalog) Parse(raw string) (Biller, error) {
	name, err := domain.ParseBillerName(raw)
	if err != nil {
		return nil, err
	}
	return c.ByName(name)
}

// All returns the registered billers.
func (c *Catalog) All() []Biller {
	out := make([]Biller, 0, len(c.byName))
	for _, b := range c.byName {
		out = append(out, b)
	}
	return out
}
