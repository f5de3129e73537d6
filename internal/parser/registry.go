package parser

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ntrivedi/adviceparser/constants"
	"github.com/ntrivedi/adviceparser/internal/common"
	"github.com/ntrivedi/adviceparser/internal/entity"
)

// Registration binds a customer identity to its strategy and the marker
// keywords that identify its documents. Registration order is the detection
// tie-break: the first entry whose keyword matches wins, so more specific
// keywords belong earlier in the table.
type Registration struct {
	Customer string
	Keywords []string
	Parser   Parser
}

// Registry maps customer identities to parser strategies and owns the
// keyword detection heuristic.
type Registry struct {
	logger     *slog.Logger
	entries    []Registration
	byCustomer map[string]Parser
	generic    Parser
	xml        Parser
}

// DispatchOptions tunes parser selection.
type DispatchOptions struct {
	// Strict requires an exact registry match for an explicitly supplied
	// customer instead of falling back to the generic parser.
	Strict bool
}

// NewRegistry builds a registry pre-populated with the known customer
// strategies. Adding a customer means adding a Registration here (or via
// Register) and nothing else.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:     logger,
		byCustomer: make(map[string]Parser),
		generic:    GenericParser{},
		xml:        CXMLRemittanceParser{},
	}

	hzl := HindustanZincParser{}
	r.Register(Registration{
		Customer: "Hindustan Zinc India Ltd",
		Keywords: []string{"HINDUSTAN ZINC", "HZL"},
		Parser:   hzl,
	})
	// Aliases seen on upload forms.
	r.alias("Hindustan Zinc", hzl)
	r.alias("HZL", hzl)

	return r
}

// Register appends a customer strategy to the detection table.
func (r *Registry) Register(reg Registration) {
	r.entries = append(r.entries, reg)
	r.byCustomer[strings.ToLower(reg.Customer)] = reg.Parser
}

// alias maps an alternative customer spelling to an already-registered
// parser without adding a detection entry.
func (r *Registry) alias(customer string, p Parser) {
	r.byCustomer[strings.ToLower(customer)] = p
}

// SupportedCustomers lists the customer names with a dedicated strategy, in
// registration order.
func (r *Registry) SupportedCustomers() []string {
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Customer)
	}
	return out
}

// Generic exposes the fallback strategy.
func (r *Registry) Generic() Parser { return r.generic }

// Dispatch selects the strategy for a document:
//
//  1. XML payloads always go to the cXML parser.
//  2. An explicitly supplied customer is looked up directly; an unknown
//     customer falls through to generic unless opts.Strict is set.
//  3. Otherwise keyword detection runs over the raw text in table order;
//     first match wins.
//  4. No match selects the generic parser.
//
// The returned customer name is the resolved identity ("" when unknown).
// Detection is deterministic: identical text always selects the same parser.
func (r *Registry) Dispatch(req Request, opts DispatchOptions) (Parser, string, error) {
	if req.SourceFormat == constants.XML {
		return r.xml, req.CustomerName, nil
	}

	if req.CustomerName != "" {
		if p, ok := r.byCustomer[strings.ToLower(req.CustomerName)]; ok {
			return p, req.CustomerName, nil
		}
		if opts.Strict {
			return nil, "", fmt.Errorf("%w: %q", common.ErrUnknownCustomer, req.CustomerName)
		}
		r.logger.Info("no parser registered for customer, using generic",
			"customer", req.CustomerName, "document", req.DocumentRef)
		return r.generic, req.CustomerName, nil
	}

	if customer := r.detect(req.RawText); customer != "" {
		return r.byCustomer[strings.ToLower(customer)], customer, nil
	}

	r.logger.Info("customer not detected, using generic parser", "document", req.DocumentRef)
	return r.generic, "", nil
}

// detect runs the keyword table over uppercased text. First match wins;
// keyword specificity ordering is a registry-authoring responsibility.
func (r *Registry) detect(text string) string {
	if text == "" {
		return ""
	}
	upper := strings.ToUpper(text)
	for _, e := range r.entries {
		if strings.Contains(upper, strings.ToUpper(e.Customer)) {
			return e.Customer
		}
		for _, kw := range e.Keywords {
			if strings.Contains(upper, strings.ToUpper(kw)) {
				return e.Customer
			}
		}
	}
	return ""
}

// ParseWithFallback runs a strategy with crash isolation. A panic or error
// inside a customer strategy is wrapped as a parser crash and recovered by
// rerunning the generic parser for this one document; it never aborts the
// caller's batch.
func (r *Registry) ParseWithFallback(p Parser, req Request) (adv *entity.PaymentAdvice, err error) {
	adv, err = r.parseRecover(p, req)
	if err == nil {
		return adv, nil
	}
	if p.Name() == r.generic.Name() {
		// Generic has no further fallback; by contract it should not get here.
		return nil, err
	}
	r.logger.Warn("parser crashed, falling back to generic",
		"parser", p.Name(), "document", req.DocumentRef, "error", err)
	adv, gerr := r.parseRecover(r.generic, req)
	if gerr != nil {
		return nil, gerr
	}
	return adv, nil
}

func (r *Registry) parseRecover(p Parser, req Request) (adv *entity.PaymentAdvice, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			adv = nil
			err = fmt.Errorf("%w: %s: %v", common.ErrParserCrashed, p.Name(), rec)
		}
	}()
	adv, err = p.Parse(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrParserCrashed, p.Name(), err)
	}
	return adv, nil
}
