package sequence

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingledger/internal/cache"
	"github.com/smallbiznis/billingledger/internal/config"
	"gorm.io/gorm"
)

const numberRuleTTL = 5 * time.Minute

// Numberer renders allocated values with the tenant's prefix. Prefix rules are
// read from the numbering config once per tenant and cached for numberRuleTTL,
// so a hot-reloaded prefix takes effect on the next cache miss.
type Numberer struct {
	allocator *Allocator
	holder    *config.NumberingConfigHolder
	rules     cache.Cache[snowflake.ID, config.NumberRule]
}

func NewNumberer(allocator *Allocator, holder *config.NumberingConfigHolder) *Numberer {
	return &Numberer{
		allocator: allocator,
		holder:    holder,
		rules:     cache.NewTTLCache[snowflake.ID, config.NumberRule](),
	}
}

// NextTx allocates the next number for scope inside tx.
func (n *Numberer) NextTx(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, scope Scope, at time.Time) (Number, error) {
	rule := n.ruleFor(tenantID)
	key := Key{TenantID: tenantID, Scope: scope, Year: at.UTC().Year(), Prefix: prefixFor(rule, scope)}
	value, err := n.allocator.NextTx(ctx, tx, key)
	if err != nil {
		return Number{}, err
	}

	return Number{
		Key:       key,
		Value:     value,
		Formatted: Format(key.Prefix, key.Year, value, rule.Padding),
		Hash:      Hash(key, value),
	}, nil
}

func (n *Numberer) ruleFor(tenantID snowflake.ID) config.NumberRule {
	if rule, ok := n.rules.Get(tenantID); ok {
		return rule
	}
	rule := config.DefaultNumberingConfig().Defaults
	if n.holder != nil {
		rule = n.holder.Get().RuleFor(tenantID.String())
	}
	n.rules.Set(tenantID, rule, numberRuleTTL)
	return rule
}

func prefixFor(rule config.NumberRule, scope Scope) string {
	if scope == ScopeCreditNote {
		return rule.CreditNotePrefix
	}
	return rule.InvoicePrefix
}
