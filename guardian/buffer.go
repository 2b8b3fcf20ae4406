package guardian

import "fmt"

// BufferPolicy answers whether an SKU has fallen below its safety buffer.
// Pure; no I/O.
type BufferPolicy struct {
	Global    int64
	Overrides map[string]int64
}

func (p BufferPolicy) BufferFor(sku string) int64 {
	if b, ok := p.Overrides[sku]; ok {
		return b
	}
	return p.Global
}

func (p BufferPolicy) IsBreached(sku string, quantity int64) (bool, string) {
	buf := p.BufferFor(sku)
	if quantity < buf {
		return true, fmt.Sprintf("BufferBreach: sku %s stock %d < buffer %d", sku, quantity, buf)
	}
	return false, "OK"
}
