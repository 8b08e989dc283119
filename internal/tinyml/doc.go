// Package tinyml is a small inference runtime for the quantized direction
// model. A model artifact is a protobuf-wire encoded graph of tensors and
// operators; the interpreter places every intermediate tensor inside one
// caller-supplied arena and evaluates the operators in order.
//
// Supported operators are Conv2D, MaxPool2D, Reshape, FullyConnected,
// Softmax and Quantize. Activations are float32 or int8; constant weights
// may be int8 with a per-tensor scale (hybrid quantization).
package tinyml
