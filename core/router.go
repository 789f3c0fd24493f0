package core

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/pkg/errors"
)

// Handler serves one ABI method. The returned values are packed with the
// method outputs.
type Handler func(tx *Tx, args []any) ([]any, error)

// Router dispatches ABI payloads to handlers by 4-byte selector.
type Router struct {
	abi      abi.ABI
	handlers map[string]Handler
	receive  func(tx *Tx) error
}

// MustParseABI parses a JSON ABI definition and panics if it is malformed.
func MustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

func NewRouter(contractABI abi.ABI) *Router {
	return &Router{
		abi:      contractABI,
		handlers: make(map[string]Handler),
	}
}

func (r *Router) Handle(method string, h Handler) *Router {
	if _, ok := r.abi.Methods[method]; !ok {
		panic(fmt.Sprintf("method %s is not part of the abi", method))
	}
	r.handlers[method] = h
	return r
}

// Receive installs the hook run on plain transfers. Without one, transfers
// carrying value are rejected.
func (r *Router) Receive(fn func(tx *Tx) error) *Router {
	r.receive = fn
	return r
}

func (r *Router) Dispatch(tx *Tx, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		if r.receive != nil {
			return nil, r.receive(tx)
		}
		if tx.value.Sign() > 0 {
			return nil, ErrRejected
		}
		return nil, nil
	}
	if len(payload) < 4 {
		return nil, errors.Wrap(ErrUnknownMethod, "payload shorter than a selector")
	}
	method, err := r.abi.MethodById(payload[:4])
	if err != nil {
		return nil, errors.Wrap(ErrUnknownMethod, err.Error())
	}
	h, ok := r.handlers[method.Name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMethod, "%s is not served", method.Name)
	}
	if tx.value.Sign() > 0 && !method.IsPayable() {
		return nil, errors.Wrap(ErrNotPayable, method.Name)
	}
	args, err := method.Inputs.Unpack(payload[4:])
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "decode %s: %s", method.Name, err)
	}
	out, err := h(tx, args)
	if err != nil {
		return nil, err
	}
	if len(method.Outputs) == 0 {
		return nil, nil
	}
	return method.Outputs.Pack(out...)
}

// IsView reports whether payload selects a view or pure method.
func (r *Router) IsView(payload []byte) bool {
	if len(payload) < 4 {
		return false
	}
	method, err := r.abi.MethodById(payload[:4])
	if err != nil {
		return false
	}
	return method.IsConstant()
}

// Pack encodes a call to method.
func (r *Router) Pack(method string, args ...any) ([]byte, error) {
	return r.abi.Pack(method, args...)
}

func (r *Router) Event(name string) abi.Event {
	ev, ok := r.abi.Events[name]
	if !ok {
		panic(fmt.Sprintf("event %s is not part of the abi", name))
	}
	return ev
}

// Uint64Arg converts a decoded uint256 argument to uint64.
func Uint64Arg(v any) (uint64, error) {
	b, ok := v.(*big.Int)
	if !ok || !b.IsUint64() {
		return 0, errors.Wrapf(ErrInvalidArgument, "%v is not a uint64", v)
	}
	return b.Uint64(), nil
}
