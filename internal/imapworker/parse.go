package imapworker

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/dusong7/nmail-go/internal/cache"
	gomessage "github.com/emersion/go-message"
)

const maxPartBytes = 32 << 20

// parseBody walks a raw RFC822 message and extracts the text and HTML
// bodies plus attachment metadata for part navigation.
func parseBody(raw []byte) (*cache.Body, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil {
		return &cache.Body{Text: string(raw)}, nil
	}

	body := &cache.Body{}
	if mr := entity.MultipartReader(); mr != nil {
		walkMultipart(mr, body, "")
	} else {
		fillSinglePart(entity.Header, entity.Body, body)
	}
	return body, nil
}

func walkMultipart(mr gomessage.MultipartReader, body *cache.Body, prefix string) {
	idx := 0
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		idx++
		partID := fmt.Sprintf("%s%d", prefix, idx)

		contentType, params, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		disposition, dispParams, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))

		if strings.HasPrefix(contentType, "multipart/") {
			if nested := part.MultipartReader(); nested != nil {
				walkMultipart(nested, body, partID+".")
			}
			continue
		}

		if disposition == "attachment" || disposition == "inline" {
			filename := dispParams["filename"]
			if filename == "" {
				filename = params["name"]
			}
			data, _ := io.ReadAll(io.LimitReader(part.Body, maxPartBytes))
			body.Parts = append(body.Parts, cache.Part{
				ID:       partID,
				MimeType: contentType,
				Filename: filename,
				Size:     int64(len(data)),
			})
			continue
		}

		fillSinglePart(part.Header, part.Body, body)
	}
}

func fillSinglePart(header gomessage.Header, r io.Reader, body *cache.Body) {
	contentType, _, _ := mime.ParseMediaType(header.Get("Content-Type"))
	data, _ := io.ReadAll(io.LimitReader(r, maxPartBytes))

	switch contentType {
	case "text/html":
		if body.Html == "" {
			body.Html = string(data)
		}
	case "", "text/plain":
		if body.Text == "" {
			body.Text = string(data)
		}
	default:
		body.Parts = append(body.Parts, cache.Part{
			MimeType: contentType,
			Size:     int64(len(data)),
		})
	}
}
