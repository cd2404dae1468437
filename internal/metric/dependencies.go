package metric

import (
	"strings"

	"duck-expect/internal/domain"
)

// Name suffixes with structural meaning.
const (
	SuffixCondition             = ".condition"
	SuffixMap                   = ".map"
	SuffixAggregateFn           = ".aggregate_fn"
	SuffixUnexpectedCount       = ".unexpected_count"
	SuffixUnexpectedValues      = ".unexpected_values"
	SuffixUnexpectedValueCounts = ".unexpected_value_counts"
	SuffixUnexpectedIndexList   = ".unexpected_index_list"
	SuffixUnexpectedRows        = ".unexpected_rows"
	SuffixFilteredRowCount      = ".filtered_row_count"
)

// Dependency aliases.
const (
	DepUnexpectedCondition = "unexpected_condition"
	DepMetricPartialFn     = "metric_partial_fn"
	DepMetricMapFn         = "metric_map_fn"
	DepTableColumns        = "table.columns"
	DepTableColumnTypes    = "table.column_types"
	DepTableRowCount       = "table.row_count"
)

// conditionSuffixes are the realization metrics derived from a condition.
var conditionSuffixes = []string{
	SuffixUnexpectedValues,
	SuffixUnexpectedValueCounts,
	SuffixUnexpectedIndexList,
	SuffixUnexpectedRows,
	SuffixFilteredRowCount,
}

// Dependencies returns the direct dependencies of id on backend, keyed by
// alias. It is a pure function of the identity, the backend and the
// registry contents and never invokes a provider.
func (r *Registry) Dependencies(id Identity, backend Backend) (map[string]Identity, error) {
	p, err := r.Provider(id.Name, backend)
	if err != nil {
		return nil, err
	}

	deps := map[string]Identity{}
	if p.Dependencies != nil {
		for alias, dep := range p.Dependencies(id) {
			deps[alias] = dep
		}
	}

	switch {
	case strings.HasSuffix(id.Name, SuffixUnexpectedCount+SuffixAggregateFn):
		base := strings.TrimSuffix(id.Name, SuffixUnexpectedCount+SuffixAggregateFn)
		deps[DepUnexpectedCondition] = conditionFor(base, id)
	case strings.HasSuffix(id.Name, SuffixAggregateFn):
	case r.Has(id.Name+SuffixAggregateFn, backend):
		deps[DepMetricPartialFn] = NewIdentity(id.Name+SuffixAggregateFn, id.DomainKwargs, id.ValueKwargs)
	case strings.HasSuffix(id.Name, SuffixUnexpectedCount):
		base := strings.TrimSuffix(id.Name, SuffixUnexpectedCount)
		deps[DepUnexpectedCondition] = conditionFor(base, id)
	default:
		for _, suffix := range conditionSuffixes {
			if strings.HasSuffix(id.Name, suffix) {
				deps[DepUnexpectedCondition] = conditionFor(strings.TrimSuffix(id.Name, suffix), id)
				break
			}
		}
	}

	if !strings.HasSuffix(id.Name, SuffixMap) && r.Has(id.Name+SuffixMap, backend) {
		deps[DepMetricMapFn] = NewIdentity(id.Name+SuffixMap, id.DomainKwargs, id.ValueKwargs)
	}

	if p.NeedsTableMetadata {
		domainType := p.DomainType
		if domainType == domain.DomainTable || domainType == "" {
			domainType = domain.InferDomainType(id.DomainKwargs)
		}
		tableDomain := id.DomainKwargs.Without(domainType.TableDependencyKeys()...)
		deps[DepTableColumnTypes] = NewIdentity(DepTableColumnTypes, tableDomain, domain.Kwargs{"include_nested": true})
		deps[DepTableColumns] = NewIdentity(DepTableColumns, tableDomain, nil)
		deps[DepTableRowCount] = NewIdentity(DepTableRowCount, tableDomain, nil)
	}

	return deps, nil
}

// conditionFor builds the condition metric a realization metric reads. The
// condition does not vary with output formatting so result_format is dropped.
func conditionFor(base string, id Identity) Identity {
	return NewIdentity(base+SuffixCondition, id.DomainKwargs, id.ValueKwargs.Without(domain.KeyResultFormat))
}
