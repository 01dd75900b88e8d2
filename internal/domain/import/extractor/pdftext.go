package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
	"github.com/FACorreiaa/statement-import/internal/domain/import/sniffer"
)

// PdfText extracts rows from text pulled out of a PDF statement. Every line
// matching the profile's line pattern becomes a row whose values are the
// named capture groups; other lines are page furniture and are skipped.
func PdfText(text string, det *sniffer.Detection) (*Extraction, error) {
	if strings.TrimSpace(text) == "" {
		return nil, model.ErrEmptyInput
	}
	if det == nil || det.Profile == nil {
		return nil, fmt.Errorf("pdf text extraction needs a detection")
	}
	re := det.Profile.LineRegexp()
	if re == nil {
		return nil, fmt.Errorf("profile %s has no line pattern", det.Profile.SourceID)
	}

	var headers []string
	for _, name := range re.SubexpNames() {
		if name != "" {
			headers = append(headers, name)
		}
	}

	out := &Extraction{}
	index := 0
	for i, line := range sniffer.SplitLines(text) {
		m := re.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		index++

		values := make(map[string]string, len(headers))
		fields := make(map[model.Field]string, len(headers))
		for g, name := range re.SubexpNames() {
			if name == "" {
				continue
			}
			v := strings.TrimSpace(m[g])
			values[name] = v
			fields[model.Field(name)] = v
		}
		out.Rows = append(out.Rows, RawRow{
			Index:   index,
			Line:    i + 1,
			Headers: headers,
			Values:  values,
			Fields:  fields,
			Profile: det.Profile,
		})
	}

	if index == 0 {
		return nil, model.ErrNoTransactionsFound
	}
	return out, nil
}

// ExtractPDFText returns the text of every page, one visual row per line.
// Scanned or encrypted documents with no text layer are undecodable.
func ExtractPDFText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: pdf reader failed: %v", model.ErrUndecodableInput, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: failed to open pdf: %w", model.ErrUndecodableInput, err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return "", fmt.Errorf("%w: failed to read page %d: %w", model.ErrUndecodableInput, i, err)
		}
		for _, row := range rows {
			words := make([]string, 0, len(row.Content))
			for _, word := range row.Content {
				if s := strings.TrimSpace(word.S); s != "" {
					words = append(words, s)
				}
			}
			if len(words) > 0 {
				b.WriteString(strings.Join(words, " "))
				b.WriteByte('\n')
			}
		}
	}

	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("%w: pdf has no text layer", model.ErrUndecodableInput)
	}
	return b.String(), nil
}
