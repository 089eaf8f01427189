package sim

// Execution is the outcome of unwinding one batch.
type Execution struct {
	// Price is the realized per-unit price.
	Price float64
	// Slippage is the fraction lost to market depth for this batch.
	Slippage float64
}

// Execute applies slippage linear in batch size. The result is not clamped:
// batch*baseSlippage >= 1 yields a zero or negative price.
func Execute(batchSize int, referencePrice, baseSlippage float64) Execution {
	slippage := baseSlippage * float64(batchSize)
	return Execution{
		Price:    referencePrice * (1.0 - slippage),
		Slippage: slippage,
	}
}
