package webgpu

import "fmt"

// shaderSource pairs a cache key with WGSL code.
type shaderSource struct {
	name string
	code string
}

// binaryShader builds the WGSL for an element-wise binary operation.
func binaryShader(name string) shaderSource {
	var expr string
	switch name {
	case "add":
		expr = "a[i] + b[i]"
	case "sub":
		expr = "a[i] - b[i]"
	case "mul":
		expr = "a[i] * b[i]"
	case "div":
		expr = "a[i] / b[i]"
	default:
		panic("webgpu: unknown binary op " + name)
	}
	code := fmt.Sprintf(`
struct Params { n: u32 }

@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> out: array<f32>;
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(%d)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let i = gid.x;
    if (i >= params.n) { return; }
    out[i] = %s;
}
`, workgroupSize, expr)
	return shaderSource{name: "binary_" + name, code: code}
}

// unaryShader builds the WGSL for an element-wise unary operation.
func unaryShader(name string) shaderSource {
	var expr string
	switch name {
	case "exp":
		expr = "exp(x[i])"
	case "log":
		expr = "log(x[i])"
	case "sqrt":
		expr = "sqrt(x[i])"
	case "sigmoid":
		expr = "1.0 / (1.0 + exp(-x[i]))"
	case "relu":
		expr = "max(x[i], 0.0)"
	default:
		panic("webgpu: unknown unary op " + name)
	}
	code := fmt.Sprintf(`
struct Params { n: u32 }

@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read_write> out: array<f32>;
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(%d)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let i = gid.x;
    if (i >= params.n) { return; }
    out[i] = %s;
}
`, workgroupSize, expr)
	return shaderSource{name: "unary_" + name, code: code}
}

// scalarShader builds the WGSL for an operation with a scalar operand.
func scalarShader(name string) shaderSource {
	var expr string
	switch name {
	case "add_scalar":
		expr = "x[i] + params.s"
	case "mul_scalar":
		expr = "x[i] * params.s"
	default:
		panic("webgpu: unknown scalar op " + name)
	}
	code := fmt.Sprintf(`
struct Params { n: u32, s: f32 }

@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read_write> out: array<f32>;
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(%d)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let i = gid.x;
    if (i >= params.n) { return; }
    out[i] = %s;
}
`, workgroupSize, expr)
	return shaderSource{name: name, code: code}
}

// matmulWGSL multiplies [M, K] by [K, N] with one thread per output cell
// in 16x16 workgroup tiles.
const matmulWGSL = `
struct Params { m: u32, k: u32, n: u32 }

@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> out: array<f32>;
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(16, 16)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let col = gid.x;
    let row = gid.y;
    if (row >= params.m || col >= params.n) { return; }

    var sum = 0.0;
    for (var i = 0u; i < params.k; i = i + 1u) {
        sum = sum + a[row * params.k + i] * b[i * params.n + col];
    }
    out[row * params.n + col] = sum;
}
`
