// Package hostio knows the argument and result layouts of the Stylus host
// operations and converts between raw tracer buffers and typed fields.
package hostio

// Slot types. Fixed-width integers are big-endian.
type SlotType uint8

const (
	U8 SlotType = iota + 1
	U16
	U32
	U64
	U256
	B256
	Address
	// Flag is a u32 interpreted as a boolean.
	Flag
	// Data consumes the rest of the buffer.
	Data
)

// Size is the encoded width in bytes, or 0 for Data.
func (t SlotType) Size() int {
	switch t {
	case U8:
		return 1
	case U16:
		return 2
	case U32, Flag:
		return 4
	case U64:
		return 8
	case U256, B256:
		return 32
	case Address:
		return 20
	}
	return 0
}

func (t SlotType) String() string {
	switch t {
	case U8:
		return "u8"
	case U16:
		return "u16"
	case U32:
		return "u32"
	case U64:
		return "u64"
	case U256:
		return "u256"
	case B256:
		return "b256"
	case Address:
		return "address"
	case Flag:
		return "bool"
	case Data:
		return "data"
	}
	return "unknown"
}

// Slot is one named field within an args or outs buffer.
type Slot struct {
	Name string
	Type SlotType
}

// Layout describes how a hostio's args and outs buffers are packed.
type Layout struct {
	Args []Slot
	Outs []Slot
}

func s(name string, t SlotType) Slot { return Slot{Name: name, Type: t} }

func args(slots ...Slot) []Slot { return slots }

var layouts = map[string]Layout{
	"user_entrypoint":         {Args: args(s("args_len", U32))},
	"user_returned":           {Outs: args(s("status", U32))},
	"read_args":               {Outs: args(s("args", Data))},
	"write_result":            {Args: args(s("result", Data))},
	"exit_early":              {Args: args(s("status", U32))},
	"storage_load_bytes32":    {Args: args(s("key", B256)), Outs: args(s("value", B256))},
	"storage_cache_bytes32":   {Args: args(s("key", B256), s("value", B256))},
	"storage_flush_cache":     {Args: args(s("clear", U8))},
	"transient_load_bytes32":  {Args: args(s("key", B256)), Outs: args(s("value", B256))},
	"transient_store_bytes32": {Args: args(s("key", B256), s("value", B256))},
	"account_balance":         {Args: args(s("address", Address)), Outs: args(s("balance", U256))},
	"account_code": {
		Args: args(s("address", Address), s("offset", U32), s("size", U32)),
		Outs: args(s("code", Data)),
	},
	"account_code_size": {Args: args(s("address", Address)), Outs: args(s("size", U32))},
	"account_codehash":  {Args: args(s("address", Address)), Outs: args(s("codehash", B256))},
	"block_basefee":     {Outs: args(s("basefee", U256))},
	"block_coinbase":    {Outs: args(s("coinbase", Address))},
	"block_gas_limit":   {Outs: args(s("limit", U64))},
	"block_number":      {Outs: args(s("number", U64))},
	"block_timestamp":   {Outs: args(s("timestamp", U64))},
	"chainid":           {Outs: args(s("chainid", U64))},
	"contract_address":  {Outs: args(s("address", Address))},
	"evm_gas_left":      {Outs: args(s("gas_left", U64))},
	"evm_ink_left":      {Outs: args(s("ink_left", U64))},
	"math_div":          {Args: args(s("a", U256), s("b", U256)), Outs: args(s("result", U256))},
	"math_mod":          {Args: args(s("a", U256), s("b", U256)), Outs: args(s("result", U256))},
	"math_pow":          {Args: args(s("a", U256), s("b", U256)), Outs: args(s("result", U256))},
	"math_add_mod":      {Args: args(s("a", U256), s("b", U256), s("c", U256)), Outs: args(s("result", U256))},
	"math_mul_mod":      {Args: args(s("a", U256), s("b", U256), s("c", U256)), Outs: args(s("result", U256))},
	"msg_reentrant":     {Outs: args(s("reentrant", Flag))},
	"msg_sender":        {Outs: args(s("sender", Address))},
	"msg_value":         {Outs: args(s("value", B256))},
	"native_keccak256":  {Args: args(s("preimage", Data)), Outs: args(s("digest", B256))},
	"tx_gas_price":      {Outs: args(s("gas_price", U256))},
	"tx_ink_price":      {Outs: args(s("ink_price", U32))},
	"tx_origin":         {Outs: args(s("origin", Address))},

	"pay_for_memory_grow": {Args: args(s("pages", U16))},
	"call_contract": {
		Args: args(s("address", Address), s("gas", U64), s("value", U256), s("data", Data)),
		Outs: args(s("outs_len", U32), s("status", U8)),
	},
	"delegate_call_contract": {
		Args: args(s("address", Address), s("gas", U64), s("data", Data)),
		Outs: args(s("outs_len", U32), s("status", U8)),
	},
	"static_call_contract": {
		Args: args(s("address", Address), s("gas", U64), s("data", Data)),
		Outs: args(s("outs_len", U32), s("status", U8)),
	},
	"create1": {
		Args: args(s("endowment", U256), s("code", Data)),
		Outs: args(s("address", Address), s("revert_data_len", U32)),
	},
	"create2": {
		Args: args(s("endowment", U256), s("salt", B256), s("code", Data)),
		Outs: args(s("address", Address), s("revert_data_len", U32)),
	},
	"emit_log": {Args: args(s("topics", U32), s("data", Data))},
	"read_return_data": {
		Args: args(s("offset", U32), s("size", U32)),
		Outs: args(s("data", Data)),
	},
	"return_data_size": {Outs: args(s("size", U32))},
	"console_log_text": {Args: args(s("text", Data))},
	"console_log":      {Args: args(s("text", Data))},
}

// Lookup returns the layout for a hostio name.
func Lookup(name string) (Layout, bool) {
	l, ok := layouts[name]
	return l, ok
}

// Known reports whether name has a layout.
func Known(name string) bool {
	_, ok := layouts[name]
	return ok
}
