// Package embeddings turns text into vectors.
//
// Three providers are supported: FastEmbed (local ONNX model, cgo builds
// only), TEI (a Text Embeddings Inference server) and any OpenAI-compatible
// embeddings endpoint. A Handle owns one provider for the life of the
// process and creates it on first use. A Batcher screens texts that carry too
// little information and embeds the rest in a single model call, returning
// results aligned with the input.
package embeddings
