package service

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

// Bus channel and stream names.
const (
	AnswerChannelPrefix = "ch:answer:"
	AnswerChannelAll    = AnswerChannelPrefix + "*"
	AnswerStream        = "stream:answers"
)

// AnswerChannel returns the Pub/Sub channel answers for symbol go out on.
func AnswerChannel(symbol string) string {
	return AnswerChannelPrefix + symbol
}

// EncodeAnswerEvent serialises an answer as a protobuf Struct. Amounts are
// decimal strings; block numbers fit a double exactly.
func EncodeAnswerEvent(a domain.Answer) ([]byte, error) {
	st, err := structpb.NewStruct(map[string]any{
		"type":          "answer",
		"id":            a.ID,
		"symbol":        a.Symbol,
		"answer":        a.Value.Dec(),
		"reference":     a.Reference.Dec(),
		"source":        string(a.Source),
		"path":          string(a.Path),
		"deviation_bps": float64(a.DeviationBps),
		"block_number":  float64(a.BlockNumber),
		"signature":     a.Signature,
		"signer":        a.Signer,
		"computed_at":   a.ComputedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("service: encode answer event: %w", err)
	}
	return proto.Marshal(st)
}

// DecodeAnswerEvent reverses EncodeAnswerEvent.
func DecodeAnswerEvent(data []byte) (domain.Answer, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return domain.Answer{}, fmt.Errorf("service: decode answer event: %w", err)
	}
	f := st.GetFields()
	if f["type"].GetStringValue() != "answer" {
		return domain.Answer{}, fmt.Errorf("service: decode answer event: unexpected type %q", f["type"].GetStringValue())
	}

	a := domain.Answer{
		ID:           f["id"].GetStringValue(),
		Symbol:       f["symbol"].GetStringValue(),
		Source:       domain.PriceSource(f["source"].GetStringValue()),
		Path:         domain.ValuationPath(f["path"].GetStringValue()),
		DeviationBps: uint64(f["deviation_bps"].GetNumberValue()),
		BlockNumber:  uint64(f["block_number"].GetNumberValue()),
		Signature:    f["signature"].GetStringValue(),
		Signer:       f["signer"].GetStringValue(),
	}
	if err := a.Value.SetFromDecimal(f["answer"].GetStringValue()); err != nil {
		return domain.Answer{}, fmt.Errorf("service: decode answer event: answer: %w", err)
	}
	if err := a.Reference.SetFromDecimal(f["reference"].GetStringValue()); err != nil {
		return domain.Answer{}, fmt.Errorf("service: decode answer event: reference: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, f["computed_at"].GetStringValue())
	if err != nil {
		return domain.Answer{}, fmt.Errorf("service: decode answer event: computed_at: %w", err)
	}
	a.ComputedAt = ts
	return a, nil
}
