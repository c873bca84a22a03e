package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gallerydesk/internal/gallery"
	"github.com/gallerydesk/internal/service"
	"github.com/gin-gonic/gin"
)

// maxUploadBytes bounds a single dropped file.
const maxUploadBytes = 32 << 20

type tabRequest struct {
	Tab string `json:"tab"`
}

type mutateRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (a *API) editSession(c *gin.Context) (*service.EditSession, bool) {
	who := currentIdentity(c)
	edit, err := a.sessions.Get(c.Request.Context(), who.Username)
	if err != nil {
		c.Error(err)
		respondLoadError(c, err)
		return nil, false
	}
	return edit, true
}

// GetSession returns the editor state in display order.
func (a *API) GetSession(c *gin.Context) {
	edit, ok := a.editSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, edit.State())
}

// ReloadSession discards local edits and re-reads the published document.
func (a *API) ReloadSession(c *gin.Context) {
	edit, ok := a.editSession(c)
	if !ok {
		return
	}
	if err := edit.Load(c.Request.Context()); err != nil {
		c.Error(err)
		respondLoadError(c, err)
		return
	}
	c.JSON(http.StatusOK, edit.State())
}

// SetTab switches the active collection.
func (a *API) SetTab(c *gin.Context) {
	var req tabRequest
	if !bindJSON(c, &req, "无效的请求参数") {
		return
	}
	collection, err := gallery.ParseCollection(req.Tab)
	if err != nil {
		respondError(c, http.StatusBadRequest, "未知的图集分类")
		return
	}
	edit, ok := a.editSession(c)
	if !ok {
		return
	}
	edit.SetActiveTab(collection)
	c.JSON(http.StatusOK, edit.State())
}

// MutateEntry changes one field of one entry.
func (a *API) MutateEntry(c *gin.Context) {
	collection, ok := parseCollectionParam(c, "collection")
	if !ok {
		return
	}
	index, err := parseIndexParam(c, "index")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的条目序号")
		return
	}
	var req mutateRequest
	if !bindJSON(c, &req, "无效的请求参数") {
		return
	}
	edit, ok := a.editSession(c)
	if !ok {
		return
	}

	if err := edit.MutateEntry(collection, index, strings.TrimSpace(req.Field), req.Value); err != nil {
		switch {
		case errors.Is(err, service.ErrEntryNotFound):
			respondError(c, http.StatusNotFound, "图集条目不存在")
		case errors.Is(err, service.ErrUnknownField):
			respondError(c, http.StatusBadRequest, "该字段不可编辑")
		default:
			respondError(c, http.StatusInternalServerError, "更新失败")
		}
		return
	}
	c.JSON(http.StatusOK, edit.State())
}

// RemoveEntry deletes one entry. Removing an absent entry succeeds.
func (a *API) RemoveEntry(c *gin.Context) {
	collection, ok := parseCollectionParam(c, "collection")
	if !ok {
		return
	}
	index, err := parseIndexParam(c, "index")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的条目序号")
		return
	}
	edit, ok := a.editSession(c)
	if !ok {
		return
	}
	edit.RemoveEntry(collection, index)
	c.JSON(http.StatusOK, edit.State())
}

// QueueUploads accepts one or more dropped files for the given collection,
// or the active tab when none is given.
func (a *API) QueueUploads(c *gin.Context) {
	edit, ok := a.editSession(c)
	if !ok {
		return
	}

	collection := edit.ActiveTab()
	if raw := strings.TrimSpace(c.PostForm("collection")); raw != "" {
		parsed, err := gallery.ParseCollection(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "未知的图集分类")
			return
		}
		collection = parsed
	}

	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, http.StatusBadRequest, "未找到上传的图片")
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		respondError(c, http.StatusBadRequest, "未找到上传的图片")
		return
	}

	// read every file before queueing so a bad drop queues nothing
	type upload struct {
		name    string
		payload []byte
	}
	uploads := make([]upload, 0, len(files))
	for _, header := range files {
		if header.Size > maxUploadBytes {
			respondError(c, http.StatusRequestEntityTooLarge, "图片过大："+header.Filename)
			return
		}
		if _, err := collection.UploadPath(header.Filename); err != nil {
			respondError(c, http.StatusBadRequest, "文件名无效："+header.Filename)
			return
		}
		file, err := header.Open()
		if err != nil {
			respondError(c, http.StatusBadRequest, "读取上传文件失败")
			return
		}
		payload, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		file.Close()
		if err != nil {
			respondError(c, http.StatusBadRequest, "读取上传文件失败")
			return
		}
		uploads = append(uploads, upload{name: header.Filename, payload: payload})
	}

	indices := make([]int, 0, len(uploads))
	for _, u := range uploads {
		idx, err := edit.QueueUpload(collection, u.name, u.payload)
		if err != nil {
			respondError(c, http.StatusBadRequest, "文件名无效："+u.name)
			return
		}
		indices = append(indices, idx)
	}

	c.JSON(http.StatusOK, gin.H{
		"collection": collection,
		"indices":    indices,
		"state":      edit.State(),
	})
}

// ServePreview streams the bytes behind a pending upload's preview URL.
func (a *API) ServePreview(c *gin.Context) {
	edit, ok := a.editSession(c)
	if !ok {
		return
	}
	data, contentType, err := edit.Preview(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusNotFound, "预览不存在")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, contentType, data)
}

// Save runs the commit workflow once.
func (a *API) Save(c *gin.Context) {
	edit, ok := a.editSession(c)
	if !ok {
		return
	}
	result, err := a.publisher.Publish(c.Request.Context(), edit, currentIdentity(c))
	if err != nil {
		c.Error(err)
		respondSaveError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"result": result,
		"state":  edit.State(),
	})
}

// ListHistory returns recent save outcomes.
func (a *API) ListHistory(c *gin.Context) {
	records, err := a.history.Recent(20)
	if err != nil {
		c.Error(err)
		respondError(c, http.StatusInternalServerError, "获取保存记录失败")
		return
	}
	items := make([]gin.H, 0, len(records))
	for _, rec := range records {
		items = append(items, gin.H{
			"id":         rec.ID,
			"createdAt":  rec.CreatedAt,
			"username":   rec.Username,
			"collection": rec.Collection,
			"branch":     rec.Branch,
			"commitSha":  rec.CommitSHA,
			"headSha":    rec.HeadSHA,
			"message":    rec.Message,
			"uploads":    rec.Uploads,
			"attempts":   rec.Attempts,
			"status":     rec.Status,
			"step":       rec.Step,
			"error":      rec.Error,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
