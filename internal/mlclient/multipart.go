package mlclient

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
)

// encodeMultipart builds a multipart/form-data body with one part per image
// under the given field name. Missing filenames and content types get the
// same defaults the service assumes.
func encodeMultipart(field string, images []NamedImage) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, img := range images {
		filename := img.Filename
		if filename == "" {
			filename = "image.jpg"
		}
		contentType := img.ContentType
		if contentType == "" {
			contentType = "image/jpeg"
		}

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
		header.Set("Content-Type", contentType)

		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), writer.FormDataContentType(), nil
}
