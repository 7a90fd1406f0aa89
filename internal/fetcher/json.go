package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DecodeJSONArray decodes a JSON array streaming, sending each element to a channel.
// Expects input in the form [{...},{...}].
// Both channels are closed when processing completes.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)

		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return
			}
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}

		delim, ok := tok.(json.Delim)
		if !ok || delim != '[' {
			errCh <- eris.Errorf("json: expected '[', got %v", tok)
			return
		}

		for decoder.More() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}

			var item T
			if err := decoder.Decode(&item); err != nil {
				errCh <- eris.Wrap(err, "json: decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		if _, err := decoder.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return outCh, errCh
}

// ReadJSONRecords decodes a JSON array of flat objects. Non-string values are
// formatted with fmt.
func ReadJSONRecords(ctx context.Context, r io.Reader) ([]map[string]string, error) {
	itemCh, errCh := DecodeJSONArray[map[string]any](ctx, r)
	var out []map[string]string
	for item := range itemCh {
		out = append(out, stringify(item))
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return out, nil
}

// ReadYAMLRecords decodes a YAML sequence of flat mappings.
func ReadYAMLRecords(r io.Reader) ([]map[string]string, error) {
	var items []map[string]any
	if err := yaml.NewDecoder(r).Decode(&items); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, eris.Wrap(err, "yaml: decode records")
	}
	out := make([]map[string]string, 0, len(items))
	for _, item := range items {
		out = append(out, stringify(item))
	}
	return out, nil
}

func stringify(item map[string]any) map[string]string {
	rec := make(map[string]string, len(item))
	for k, v := range item {
		switch val := v.(type) {
		case nil:
			rec[k] = ""
		case string:
			rec[k] = val
		default:
			rec[k] = fmt.Sprint(val)
		}
	}
	return rec
}
