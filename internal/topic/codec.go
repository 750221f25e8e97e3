package topic

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
)

const (
	// Separator joins the prefix and argument segments of an id.
	Separator = "@@"

	// EmptyArgs stands in for the argument segment of a zero-argument id.
	EmptyArgs = "EMPTY_ARGS"

	// AllSuffix marks a wire topic whose suffix is part of the prefix
	// ("/market/ticker:all").
	AllSuffix = "all"

	argSep   = ","
	topicSep = ":"
)

var (
	ErrMalformedID  = errors.New("malformed subscription id")
	ErrInvalidTopic = errors.New("invalid topic")
)

// BuildID returns the canonical id for prefix and args. args is not modified.
func BuildID(prefix string, args []string) string {
	if len(args) == 0 {
		return prefix + Separator + EmptyArgs
	}
	sorted := slices.Clone(args)
	slices.Sort(sorted)
	return prefix + Separator + strings.Join(sorted, argSep)
}

// ParseID splits an id built by BuildID back into its prefix and sorted args.
func ParseID(id string) (prefix string, args []string, err error) {
	prefix, rest, ok := strings.Cut(id, Separator)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrMalformedID, id)
	}
	if rest == EmptyArgs {
		return prefix, nil, nil
	}
	return prefix, strings.Split(rest, argSep), nil
}

// Topics yields one wire topic per argument in the order given, or the bare
// prefix when there are no arguments.
func Topics(prefix string, args []string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if len(args) == 0 {
			yield(prefix)
			return
		}
		for _, arg := range args {
			if !yield(prefix + topicSep + arg) {
				return
			}
		}
	}
}

// SubTopic is the topic carried by a subscribe or unsubscribe frame: all
// arguments joined into a single request.
func SubTopic(prefix string, args []string) string {
	if len(args) == 0 {
		return prefix
	}
	return prefix + topicSep + strings.Join(args, argSep)
}

// Split breaks a wire topic into its prefix and argument. A topic without an
// argument, or with the "all" suffix, is its own prefix and has an empty arg.
func Split(topic string) (prefix, arg string) {
	prefix, arg, ok := strings.Cut(topic, topicSep)
	if !ok || arg == AllSuffix {
		return topic, ""
	}
	return prefix, arg
}

// Validate rejects prefixes and arguments that would make an id or wire
// topic ambiguous to split.
func Validate(prefix string, args []string) error {
	if prefix == "" {
		return fmt.Errorf("%w: empty prefix", ErrInvalidTopic)
	}
	if strings.Contains(prefix, Separator) {
		return fmt.Errorf("%w: prefix %q contains %q", ErrInvalidTopic, prefix, Separator)
	}
	if strings.HasSuffix(prefix, "@") {
		return fmt.Errorf("%w: prefix %q ends in %q", ErrInvalidTopic, prefix, "@")
	}
	// The only ":" a prefix may carry is its own ":all" suffix, and such a
	// prefix takes no arguments.
	if base, suffix, ok := strings.Cut(prefix, topicSep); ok {
		if suffix != AllSuffix || base == "" {
			return fmt.Errorf("%w: prefix %q contains %q", ErrInvalidTopic, prefix, topicSep)
		}
		if len(args) > 0 {
			return fmt.Errorf("%w: prefix %q takes no arguments", ErrInvalidTopic, prefix)
		}
	}
	seen := make(map[string]struct{}, len(args))
	for _, arg := range args {
		switch {
		case arg == "":
			return fmt.Errorf("%w: empty argument", ErrInvalidTopic)
		case strings.Contains(arg, Separator), strings.Contains(arg, argSep), strings.Contains(arg, topicSep):
			return fmt.Errorf("%w: argument %q contains a reserved separator", ErrInvalidTopic, arg)
		case arg == AllSuffix:
			return fmt.Errorf("%w: argument %q is reserved", ErrInvalidTopic, arg)
		case len(args) == 1 && arg == EmptyArgs:
			return fmt.Errorf("%w: argument %q is reserved", ErrInvalidTopic, arg)
		}
		if _, dup := seen[arg]; dup {
			return fmt.Errorf("%w: argument %q repeated", ErrInvalidTopic, arg)
		}
		seen[arg] = struct{}{}
	}
	return nil
}
