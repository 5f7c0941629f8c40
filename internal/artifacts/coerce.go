package artifacts

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Coerce converts loosely typed values into the exact Go types go-ethereum's
// ABI packer requires for each argument. Module authors may write plain
// ints, decimal or hex strings, and hex addresses.
func Coerce(inputs abi.Arguments, args []any) ([]any, error) {
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(inputs), len(args))
	}
	out := make([]any, len(args))
	for i, in := range inputs {
		v, err := coerceValue(in.Type, args[i])
		if err != nil {
			name := in.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("argument %s (%s): %w", name, in.Type.String(), err)
		}
		out[i] = v
	}
	return out, nil
}

func coerceValue(t abi.Type, v any) (any, error) {
	switch t.T {
	case abi.AddressTy:
		switch a := v.(type) {
		case common.Address:
			return a, nil
		case *common.Address:
			if a == nil {
				return nil, fmt.Errorf("nil address")
			}
			return *a, nil
		case string:
			if !common.IsHexAddress(a) {
				return nil, fmt.Errorf("invalid address %q", a)
			}
			return common.HexToAddress(a), nil
		}
	case abi.UintTy, abi.IntTy:
		return coerceInteger(t, v)
	case abi.BoolTy:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case abi.StringTy:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case abi.BytesTy:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return hexutil.Decode(b)
		}
	case abi.FixedBytesTy:
		if s, ok := v.(string); ok {
			raw, err := hexutil.Decode(s)
			if err != nil {
				return nil, err
			}
			if len(raw) != t.Size {
				return nil, fmt.Errorf("want %d bytes, got %d", t.Size, len(raw))
			}
			arr := reflect.New(t.GetType()).Elem()
			reflect.Copy(arr, reflect.ValueOf(raw))
			return arr.Interface(), nil
		}
	}

	rv := reflect.ValueOf(v)
	if rv.IsValid() && rv.Type() == t.GetType() {
		return v, nil
	}
	return nil, fmt.Errorf("cannot use %T", v)
}

func coerceInteger(t abi.Type, v any) (any, error) {
	var n *big.Int
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return nil, fmt.Errorf("nil integer")
		}
		n = x
	case string:
		parsed, ok := new(big.Int).SetString(strings.TrimSpace(x), 0)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", x)
		}
		n = parsed
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n = big.NewInt(rv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			n = new(big.Int).SetUint64(rv.Uint())
		default:
			return nil, fmt.Errorf("cannot use %T as integer", v)
		}
	}

	if t.T == abi.UintTy && n.Sign() < 0 {
		return nil, fmt.Errorf("negative value for unsigned type")
	}
	lo, hi := intBounds(t)
	if n.Cmp(lo) < 0 || n.Cmp(hi) > 0 {
		return nil, fmt.Errorf("value %s overflows %s", n, t.String())
	}

	goType := t.GetType()
	if goType == reflect.TypeOf(&big.Int{}) {
		return new(big.Int).Set(n), nil
	}
	out := reflect.New(goType).Elem()
	if t.T == abi.UintTy {
		out.SetUint(n.Uint64())
	} else {
		out.SetInt(n.Int64())
	}
	return out.Interface(), nil
}

// intBounds returns the inclusive range of an int<N> or uint<N> type.
func intBounds(t abi.Type) (lo, hi *big.Int) {
	if t.T == abi.UintTy {
		hi = new(big.Int).Lsh(big.NewInt(1), uint(t.Size))
		return new(big.Int), hi.Sub(hi, big.NewInt(1))
	}
	half := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
	lo = new(big.Int).Neg(half)
	return lo, half.Sub(half, big.NewInt(1))
}
