package convert

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gemmars/model-compiler/pkg/artifact"
	"github.com/gemmars/model-compiler/pkg/config"
	"github.com/gemmars/model-compiler/pkg/progress"
	"github.com/gemmars/model-compiler/pkg/sentencepiece"
	"github.com/gemmars/model-compiler/pkg/vocab"
)

// TokenizerResult summarizes a vocabulary conversion.
type TokenizerResult struct {
	Path      string
	Format    vocab.Format
	VocabSize int
	Special   vocab.SpecialTokens
}

func pieceName(m *sentencepiece.Model, id int) string {
	if id < 0 || id >= m.VocabSize() {
		return "<none>"
	}
	return m.IDToPiece(id)
}

// ConvertTokenizer writes the vocabulary artifact for cfg.Tokenizer to
// cfg.VocabOutput in cfg.VocabFormat.
func ConvertTokenizer(cfg config.Config, opts Options) (*TokenizerResult, error) {
	log := opts.logger().WithField("artifact", "vocab")
	log.Infof("Reading from %s", cfg.Tokenizer)

	model, err := sentencepiece.Load(cfg.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	v := vocab.Extract(model)
	log.WithFields(logrus.Fields{
		"vocab_size": v.Size(),
		"bos":        pieceName(model, model.BosID()),
		"eos":        pieceName(model, model.EosID()),
		"unk":        pieceName(model, model.UnkID()),
		"pad":        pieceName(model, model.PadID()),
	}).Info("Loaded tokenizer")

	f, err := artifact.Create(cfg.VocabOutput, cfg.Force, log)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := vocab.Write(f, v, cfg.VocabFormat); err != nil {
		return nil, fmt.Errorf("write %s: %w", cfg.VocabOutput, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", cfg.VocabOutput, err)
	}

	_ = progress.WriteSuccess(opts.Progress, fmt.Sprintf("Wrote %s", cfg.VocabOutput))
	log.WithField("format", cfg.VocabFormat.String()).Info("Finish converting tokenizer")

	return &TokenizerResult{
		Path:      cfg.VocabOutput,
		Format:    cfg.VocabFormat,
		VocabSize: v.Size(),
		Special:   v.Special,
	}, nil
}

// RoundTrip encodes text with the tokenizer at path and decodes the ids back.
func RoundTrip(path, text string) ([]int, string, error) {
	model, err := sentencepiece.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load tokenizer: %w", err)
	}
	ids := model.Encode(text)
	decoded, err := model.Decode(ids)
	if err != nil {
		return nil, "", err
	}
	return ids, decoded, nil
}
