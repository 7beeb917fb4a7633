package handlers

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/apperrors"
	"github.com/stanstork/datafactory/internal/authz"
)

// uploadMemory is how much of a multipart body is held in memory before
// spilling to temporary files.
const uploadMemory = 8 << 20

type uploadResponse struct {
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename"`
	FilePath         string `json:"file_path"`
	Message          string `json:"message"`
}

// UploadHandler stores files that file sources can later read by path.
type UploadHandler struct {
	dir      string
	maxBytes int64
	logger   zerolog.Logger
}

func NewUploadHandler(dir string, maxBytes int64, logger zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		dir:      dir,
		maxBytes: maxBytes,
		logger:   logger.With().Str("handler", "upload").Logger(),
	}
}

// UploadFile saves the multipart "file" field as <uuid>_<name> in the
// upload directory and returns the absolute path to use in a source config.
func (h *UploadHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error: "upload exceeds the size limit",
				Kind:  string(apperrors.KindValidation),
			})
			return
		}
		writeError(w, h.logger, apperrors.Validationf("invalid multipart form: %v", err), nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, h.logger, apperrors.Validationf("form field \"file\" is required"), nil)
		return
	}
	defer file.Close()

	original := baseName(header.Filename)
	if original == "" {
		writeError(w, h.logger, apperrors.Validationf("invalid file name %q", header.Filename), nil)
		return
	}

	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	name := uuid.NewString() + "_" + original
	path, err := filepath.Abs(filepath.Join(h.dir, name))
	if err != nil {
		writeError(w, h.logger, err, nil)
		return
	}
	if err := saveFile(path, file); err != nil {
		writeError(w, h.logger, err, nil)
		return
	}

	ev := h.logger.Info().Str("file", name).Int64("bytes", header.Size)
	if subject, ok := authz.SubjectFromRequest(r); ok {
		ev = ev.Str("subject", subject)
	}
	ev.Msg("File uploaded")

	writeJSON(w, http.StatusCreated, uploadResponse{
		Filename:         name,
		OriginalFilename: original,
		FilePath:         path,
		Message:          "File uploaded successfully",
	})
}

// baseName strips any client-side directory, either separator style.
func baseName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}

func saveFile(path string, src io.Reader) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}
