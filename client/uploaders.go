package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

type ImageType string

const (
	InputImageType  ImageType = "input"
	TempImageType   ImageType = "temp"
	OutputImageType ImageType = "output"
)

// UploadFileFromReader uploads r as filename. The returned file name may
// differ from the requested one when overwrite is false and the name is
// taken.
func (c *ComfyClient) UploadFileFromReader(ctx context.Context, r io.Reader, filename string, overwrite bool, filetype ImageType, subfolder string) (UploadedFile, error) {
	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	formFile, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return UploadedFile{}, err
	}
	if _, err := io.Copy(formFile, r); err != nil {
		return UploadedFile{}, err
	}
	_ = writer.WriteField("overwrite", strconv.FormatBool(overwrite))
	_ = writer.WriteField("type", string(filetype))
	if subfolder != "" {
		_ = writer.WriteField("subfolder", subfolder)
	}
	if err := writer.Close(); err != nil {
		return UploadedFile{}, err
	}

	body, err := c.do(ctx, http.MethodPost, "/upload/image", nil, writer.FormDataContentType(), &requestBody)
	if err != nil {
		return UploadedFile{}, err
	}

	var uploaded UploadedFile
	if err := json.Unmarshal(body, &uploaded); err != nil {
		return UploadedFile{}, fmt.Errorf("decoding upload response: %w", err)
	}
	if uploaded.Name == "" {
		return UploadedFile{}, fmt.Errorf("invalid upload response: %s", body)
	}
	return uploaded, nil
}

func (c *ComfyClient) UploadFileFromPath(ctx context.Context, filePath string, overwrite bool, filetype ImageType, subfolder string) (UploadedFile, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return UploadedFile{}, err
	}
	defer file.Close()

	return c.UploadFileFromReader(ctx, file, filepath.Base(filePath), overwrite, filetype, subfolder)
}

// UploadImage encodes img as PNG and uploads it.
func (c *ComfyClient) UploadImage(ctx context.Context, img image.Image, filename string, overwrite bool, filetype ImageType, subfolder string) (UploadedFile, error) {
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		return UploadedFile{}, err
	}
	return c.UploadFileFromReader(ctx, &buffer, filepath.Base(filename), overwrite, filetype, subfolder)
}
