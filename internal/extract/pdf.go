package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

func readPDF(path string) (text string, meta map[string]string, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	body, err := r.GetPlainText()
	if err != nil {
		return "", nil, err
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, body); err != nil {
		return "", nil, err
	}

	info := r.Trailer().Key("Info")
	meta = map[string]string{
		"title":  info.Key("Title").Text(),
		"author": info.Key("Author").Text(),
		"pages":  pagesValue(r.NumPage()),
	}
	return sb.String(), meta, nil
}
