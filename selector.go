package jobwait

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
)

var (
	// ErrInvalidJobsArgument is returned when the explicit jobs argument is
	// neither a scalar job id nor a sequence of job ids.
	ErrInvalidJobsArgument = errors.New("jobs argument must be an id or a sequence of ids")

	// ErrInvalidNamesArgument is returned when a user or partition filter is
	// neither a string nor a sequence of strings.
	ErrInvalidNamesArgument = errors.New("filter argument must be a string or a sequence of strings")

	// ErrBadJobID is returned when an explicit job entry cannot be parsed as
	// an integer id.
	ErrBadJobID = errors.New("job id is not an integer")
)

// NormalizeJobIDs converts a scalar-or-sequence jobs argument into a list of
// integer job ids. Accepted forms: nil, int, int64, string, []int, []string,
// and []any holding those scalars. Any other type fails with
// ErrInvalidJobsArgument; unparseable string entries fail with ErrBadJobID.
func NormalizeJobIDs(v any) ([]int, error) {
	switch arg := v.(type) {
	case nil:
		return nil, nil
	case int:
		return []int{arg}, nil
	case int64:
		return []int{int(arg)}, nil
	case string:
		id, err := parseJobID(arg)
		if err != nil {
			return nil, err
		}
		return []int{id}, nil
	case []int:
		out := make([]int, len(arg))
		copy(out, arg)
		return out, nil
	case []string:
		out := make([]int, 0, len(arg))
		for _, s := range arg {
			id, err := parseJobID(s)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
		return out, nil
	case []any:
		out := make([]int, 0, len(arg))
		for _, item := range arg {
			ids, err := NormalizeJobIDs(item)
			if err != nil {
				return nil, err
			}
			if len(ids) != 1 {
				return nil, fmt.Errorf("%w: nested sequence entry %v", ErrInvalidJobsArgument, item)
			}
			out = append(out, ids[0])
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrInvalidJobsArgument, v)
	}
}

// NormalizeNames converts a scalar-or-sequence name filter (users or
// partitions) into a list of strings. Accepted forms: nil, string, []string,
// and []any holding strings.
func NormalizeNames(v any) ([]string, error) {
	switch arg := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{arg}, nil
	case []string:
		out := make([]string, len(arg))
		copy(out, arg)
		return out, nil
	case []any:
		out := make([]string, 0, len(arg))
		for _, item := range arg {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: sequence entry %v is %T", ErrInvalidNamesArgument, item, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrInvalidNamesArgument, v)
	}
}

func parseJobID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadJobID, s)
	}
	return id, nil
}

// Selector resolves job filters against a queue snapshot.
type Selector struct {
	logger *slog.Logger
}

// NewSelector creates a new Selector using the given logger for diagnostics.
func NewSelector(logger *slog.Logger) *Selector {
	return &Selector{logger: logger}
}

// Select converts explicit job ids plus user and partition filters into the
// canonical sorted set of job ids to monitor.
//
// explicitJobs, users and partitions each accept a scalar or a sequence (see
// NormalizeJobIDs and NormalizeNames). When both the user filter and the
// partition filter match jobs in the snapshot, the filtered contribution is
// the intersection of the two match sets: jobs owned by one of the given
// users AND submitted to one of the given partitions. When only one filter
// matches, that match set is used as-is. Explicit job ids are always added
// on top. This intersection rule is deliberate; it is not a plain union.
//
// With no filters at all the result is empty. The returned ids are unique
// and sorted ascending.
func (s *Selector) Select(explicitJobs, users, partitions any, snap Snapshot) ([]int, error) {
	explicit, err := NormalizeJobIDs(explicitJobs)
	if err != nil {
		return nil, err
	}
	userNames, err := NormalizeNames(users)
	if err != nil {
		return nil, fmt.Errorf("users: %w", err)
	}
	partitionNames, err := NormalizeNames(partitions)
	if err != nil {
		return nil, fmt.Errorf("partitions: %w", err)
	}

	partitionMatches := make(map[int]bool)
	for id, rec := range snap {
		for _, p := range partitionNames {
			if rec.Partition == p {
				partitionMatches[id] = true
				break
			}
		}
	}

	userMatches := make(map[int]bool)
	for id, rec := range snap {
		for _, u := range userNames {
			if rec.Owner == u {
				userMatches[id] = true
				break
			}
		}
	}

	s.logger.Debug("Select: filter matches",
		"userMatches", setToSorted(userMatches),
		"partitionMatches", setToSorted(partitionMatches))

	// Both filters matching means intersection, one matching means that set
	// alone, neither means no filtered contribution.
	final := make(map[int]bool)
	switch {
	case len(userMatches) > 0 && len(partitionMatches) > 0:
		for id := range userMatches {
			if partitionMatches[id] {
				final[id] = true
			}
		}
	case len(userMatches) > 0:
		for id := range userMatches {
			final[id] = true
		}
	case len(partitionMatches) > 0:
		for id := range partitionMatches {
			final[id] = true
		}
	}

	for _, id := range explicit {
		final[id] = true
	}

	targets := setToSorted(final)
	s.logger.Debug("Select: targets resolved", "explicit", explicit, "targets", targets)
	return targets, nil
}

func setToSorted(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
