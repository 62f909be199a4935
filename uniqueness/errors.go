package uniqueness

import (
	"errors"
	"fmt"
)

// Base is the attribute that holds parent-level messages.
const Base = "base"

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrCyclicStructure  = errors.New("cyclic structure")
	ErrMaxDepthExceeded = errors.New("max depth exceeded")
)

// CycleError is returned when a tree walk reaches a node that is already one
// of its own ancestors.
type CycleError struct {
	Node  Node
	Depth int
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic structure: %T reached again at depth %d", e.Node, e.Depth)
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCyclicStructure
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Errors collects validation messages per attribute. Attributes keep the
// order in which they first received a message. The zero value is ready to
// use and all read methods accept a nil receiver.
type Errors struct {
	attributes []string
	messages   map[string][]string
}

func (e *Errors) Add(attribute, message string) {
	if e.messages == nil {
		e.messages = make(map[string][]string)
	}
	if _, ok := e.messages[attribute]; !ok {
		e.attributes = append(e.attributes, attribute)
	}
	e.messages[attribute] = append(e.messages[attribute], message)
}

// On returns a copy of the messages recorded for attribute.
func (e *Errors) On(attribute string) []string {
	if e == nil {
		return nil
	}
	msgs := e.messages[attribute]
	if len(msgs) == 0 {
		return nil
	}
	return append([]string(nil), msgs...)
}

func (e *Errors) Base() []string {
	return e.On(Base)
}

func (e *Errors) Has(attribute, message string) bool {
	if e == nil {
		return false
	}
	for _, m := range e.messages[attribute] {
		if m == message {
			return true
		}
	}
	return false
}

// Count returns the total number of messages over all attributes.
func (e *Errors) Count() int {
	if e == nil {
		return 0
	}
	n := 0
	for _, msgs := range e.messages {
		n += len(msgs)
	}
	return n
}

func (e *Errors) Empty() bool {
	return e.Count() == 0
}

func (e *Errors) Attributes() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.attributes...)
}

func (e *Errors) Map() map[string][]string {
	out := make(map[string][]string)
	if e == nil {
		return out
	}
	for attr, msgs := range e.messages {
		out[attr] = append([]string(nil), msgs...)
	}
	return out
}

// Full renders every message prefixed with its attribute name, except base
// messages which are returned as is.
func (e *Errors) Full() []string {
	if e == nil {
		return nil
	}
	var out []string
	for _, attr := range e.attributes {
		for _, msg := range e.messages[attr] {
			if attr == Base {
				out = append(out, msg)
				continue
			}
			out = append(out, attr+" "+msg)
		}
	}
	return out
}
