package stdlib

import (
	"context"
	"math"

	"github.com/wippyai/modhost/abi"
	"github.com/wippyai/modhost/value"
)

func mathImports() []abi.ImportDescriptor {
	return []abi.ImportDescriptor{
		abi.Import("sinf", "f:f", unaryF32(math.Sin)),
		abi.Import("cosf", "f:f", unaryF32(math.Cos)),
		abi.Import("tanf", "f:f", unaryF32(math.Tan)),
		abi.Import("asinf", "f:f", unaryF32(math.Asin)),
		abi.Import("acosf", "f:f", unaryF32(math.Acos)),
		abi.Import("atanf", "f:f", unaryF32(math.Atan)),
		abi.Import("atan2f", "f:ff", binaryF32(math.Atan2)),
		abi.Import("sqrtf", "f:f", unaryF32(math.Sqrt)),
		abi.Import("floorf", "f:f", unaryF32(math.Floor)),
		abi.Import("ceilf", "f:f", unaryF32(math.Ceil)),
		abi.Import("fabsf", "f:f", unaryF32(math.Abs)),
		abi.Import("expf", "f:f", unaryF32(math.Exp)),
		abi.Import("logf", "f:f", unaryF32(math.Log)),
		abi.Import("powf", "f:ff", binaryF32(math.Pow)),
		abi.Import("fmodf", "f:ff", binaryF32(math.Mod)),

		abi.Import("sin", "F:F", unaryF64(math.Sin)),
		abi.Import("cos", "F:F", unaryF64(math.Cos)),
		abi.Import("sqrt", "F:F", unaryF64(math.Sqrt)),
		abi.Import("floor", "F:F", unaryF64(math.Floor)),
		abi.Import("ceil", "F:F", unaryF64(math.Ceil)),
		abi.Import("pow", "F:FF", binaryF64(math.Pow)),
	}
}

func unaryF32(fn func(float64) float64) abi.Thunk {
	return func(_ context.Context, c *abi.Call) error {
		x, err := c.Frame.F32(0)
		if err != nil {
			return err
		}
		return c.Frame.Return(value.F32(float32(fn(float64(x)))))
	}
}

func binaryF32(fn func(float64, float64) float64) abi.Thunk {
	return func(_ context.Context, c *abi.Call) error {
		x, err := c.Frame.F32(0)
		if err != nil {
			return err
		}
		y, err := c.Frame.F32(1)
		if err != nil {
			return err
		}
		return c.Frame.Return(value.F32(float32(fn(float64(x), float64(y)))))
	}
}

func unaryF64(fn func(float64) float64) abi.Thunk {
	return func(_ context.Context, c *abi.Call) error {
		x, err := c.Frame.F64(0)
		if err != nil {
			return err
		}
		return c.Frame.Return(value.F64(fn(x)))
	}
}

func binaryF64(fn func(float64, float64) float64) abi.Thunk {
	return func(_ context.Context, c *abi.Call) error {
		x, err := c.Frame.F64(0)
		if err != nil {
			return err
		}
		y, err := c.Frame.F64(1)
		if err != nil {
			return err
		}
		return c.Frame.Return(value.F64(fn(x, y)))
	}
}
