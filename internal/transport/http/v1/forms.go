package v1

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatrelay/internal/service"
)

const maxFormSize = 20 << 20

// ListForms returns the caller's forms, newest first.
// GET /v1/forms
func (h *Handler) ListForms(c echo.Context) error {
	forms, err := h.service.ListForms(c.Request().Context(), currentUser(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"forms": forms,
	})
}

// CreateForm uploads a PDF form.
// POST /v1/forms (multipart: title, file)
func (h *Handler) CreateForm(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string][]string{"file": {"No file was submitted."}})
	}
	if fh.Size > maxFormSize {
		return c.JSON(http.StatusBadRequest, map[string][]string{"file": {"The submitted file is too large."}})
	}
	f, err := fh.Open()
	if err != nil {
		return h.writeError(c, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxFormSize))
	if err != nil {
		return h.writeError(c, err)
	}

	form, err := h.service.CreateForm(c.Request().Context(), currentUser(c), service.FormUpload{
		Title:    c.FormValue("title"),
		Filename: fh.Filename,
		Data:     data,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, form)
}

// DeleteForm removes a form and its file.
// DELETE /v1/forms/:form_id
func (h *Handler) DeleteForm(c echo.Context) error {
	if err := h.service.DeleteForm(c.Request().Context(), currentUser(c), c.Param("form_id")); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
