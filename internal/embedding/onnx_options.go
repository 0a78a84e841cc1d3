package embedding

const (
	// PoolingNone reads a pooled [1, dim] output.
	PoolingNone = "none"
	// PoolingMean averages a [1, tokens, dim] output over the attention mask.
	PoolingMean = "mean"
)

// ONNXOptions configures an ONNXEmbedder.
type ONNXOptions struct {
	ModelPath  string
	VocabPath  string // vocab.txt for WordPiece; hashed word ids when empty
	Dimensions int
	MaxTokens  int
	OutputName string
	Pooling    string
}

func (o ONNXOptions) withDefaults() ONNXOptions {
	if o.Dimensions <= 0 {
		o.Dimensions = 384
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 256
	}
	if o.Pooling == "" {
		if o.OutputName == "" || o.OutputName == "last_hidden_state" {
			o.Pooling = PoolingMean
		} else {
			o.Pooling = PoolingNone
		}
	}
	if o.OutputName == "" {
		if o.Pooling == PoolingMean {
			o.OutputName = "last_hidden_state"
		} else {
			o.OutputName = "output"
		}
	}
	return o
}

// meanPool averages token vectors whose attention mask is set.
func meanPool(hidden []float32, mask []int64, dim int) []float32 {
	out := make([]float32, dim)
	var n float32
	for t, m := range mask {
		if m == 0 {
			continue
		}
		row := hidden[t*dim : (t+1)*dim]
		for i, v := range row {
			out[i] += v
		}
		n++
	}
	if n > 0 {
		for i := range out {
			out[i] /= n
		}
	}
	return out
}
