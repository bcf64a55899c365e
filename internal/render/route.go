package render

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/relaybot/relaybot/internal/cfg"
	"github.com/relaybot/relaybot/internal/event"
)

type route struct {
	rooms        []string
	branchAllow  []*regexp.Regexp
	actorDeny    []*regexp.Regexp
	filterQuery  *gojq.Query
	filterSource string
}

func newRoute(routeCfg *cfg.Route) (*route, error) {
	result := route{
		rooms: routeCfg.Rooms,
	}

	for _, expr := range routeCfg.Branches {
		re, err := regexp.Compile(anchor(expr))
		if err != nil {
			return nil, fmt.Errorf("route %q: invalid branch expression %q: %w", routeCfg.Repository, expr, err)
		}

		result.branchAllow = append(result.branchAllow, re)
	}

	for _, expr := range routeCfg.IgnoreActors {
		re, err := regexp.Compile(anchor(expr))
		if err != nil {
			return nil, fmt.Errorf("route %q: invalid actor expression %q: %w", routeCfg.Repository, expr, err)
		}

		result.actorDeny = append(result.actorDeny, re)
	}

	if routeCfg.FilterQuery != "" {
		query, err := gojq.Parse(routeCfg.FilterQuery)
		if err != nil {
			return nil, fmt.Errorf("route %q: invalid filter_query: %w", routeCfg.Repository, err)
		}

		result.filterQuery = query
		result.filterSource = routeCfg.FilterQuery
	}

	return &result, nil
}

// anchor makes the expression match the whole value, a branch pattern
// "main" must not also allow "maintenance".
func anchor(expr string) string {
	if !strings.HasPrefix(expr, "^") {
		expr = "^" + expr
	}

	if !strings.HasSuffix(expr, "$") {
		expr += "$"
	}

	return expr
}

// allows reports whether the event passes all filters of the route.
func (r *route) allows(ev *event.Event) (bool, error) {
	if ev.Branch != "" && len(r.branchAllow) > 0 && !matchesAny(r.branchAllow, ev.Branch) {
		return false, nil
	}

	if matchesAny(r.actorDeny, ev.Actor) {
		return false, nil
	}

	if r.filterQuery != nil {
		return r.evalFilterQuery(ev)
	}

	return true, nil
}

func matchesAny(res []*regexp.Regexp, val string) bool {
	for _, re := range res {
		if re.MatchString(val) {
			return true
		}
	}

	return false
}

// evalFilterQuery runs the jq query on the JSON representation of the
// normalized event. The query must return exactly one boolean result.
func (r *route) evalFilterQuery(ev *event.Event) (bool, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("marshaling event failed: %w", err)
	}

	var evUn any
	if err := json.Unmarshal(data, &evUn); err != nil {
		return false, fmt.Errorf("unmarshaling event json failed: %w", err)
	}

	results, errs := jqIterToSlice(r.filterQuery.Run(evUn))
	if len(errs) != 0 {
		return false, fmt.Errorf("filter query returned errors, query: %q, errors: %s", r.filterSource, errString(errs))
	}

	if len(results) != 1 {
		return false, fmt.Errorf("filter query returned %d results, expected 1, query: %q", len(results), r.filterSource)
	}

	val, isBool := results[0].(bool)
	if !isBool {
		return false, fmt.Errorf("filter query returned non-bool result: %+v (%T), query: %q", results[0], results[0], r.filterSource)
	}

	return val, nil
}

func jqIterToSlice(iter gojq.Iter) ([]any, []error) {
	var result []any
	var errors []error

	for {
		res, ok := iter.Next()
		if !ok {
			return result, errors
		}

		if err, isErr := res.(error); isErr {
			errors = append(errors, err)
			continue
		}

		result = append(result, res)
	}
}

func errString(errs []error) string {
	var result strings.Builder

	for i, err := range errs {
		if i > 0 {
			result.WriteString("; ")
		}

		result.WriteString(fmt.Sprintf("error %d: %s", i, err))
	}

	return result.String()
}
