package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"clubhouse/internal/logger"
	"clubhouse/internal/models"
	"clubhouse/internal/reqctx"
	"clubhouse/internal/services"
	helpers "clubhouse/internal/utils/helpers"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// OrderingService — операции упорядочивания, которые нужны HTTP-слою.
type OrderingService interface {
	ReorderSection(ctx context.Context, req models.ReorderSectionRequest, actorID string) (bool, error)
	ReorderSections(ctx context.Context, serverID string, orderedSectionIDs []string, actorID string) (models.BulkReorderResult, error)
	CreateSection(ctx context.Context, params models.CreateSectionParams, actorID string) (models.Section, error)
	RenameSection(ctx context.Context, serverID, sectionID, name, actorID string) (models.Section, error)
	DeleteSection(ctx context.Context, serverID, sectionID, actorID string) error
	ReorderChannels(ctx context.Context, req models.ReorderChannelsRequest, actorID string) ([]models.Channel, error)
	ReorderChannelsBulk(ctx context.Context, serverID string, sectionID *string, orderedIDs []string, actorID string) (models.BulkReorderResult, error)
	CreateChannel(ctx context.Context, params models.CreateChannelParams, actorID string) (models.Channel, error)
	DeleteChannel(ctx context.Context, serverID, channelID, actorID string) error
	Apply(ctx context.Context, serverID string, req models.OrderingRequest, actorID string) (services.ApplyResult, error)
	ServerTree(ctx context.Context, serverID, actorID string) (models.ServerTree, error)
}

type OrderingHandler struct{ svc OrderingService }

func NewOrderingHandler(s OrderingService) *OrderingHandler {
	return &OrderingHandler{svc: s}
}

type renameSectionRequest struct {
	Name string `json:"name"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func actor(r *http.Request) string {
	id, _ := reqctx.GetUserID(r.Context())
	return id
}

// fail пишет ошибку движка; уровень лога зависит от того, чья это ошибка.
func fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	log := logger.WithCtx(r.Context())
	status := helpers.StatusFor(err)
	switch {
	case status >= http.StatusInternalServerError:
		log.Error("ordering: "+op+" не выполнено", zap.Error(err))
	case status == http.StatusConflict:
		log.Warn("ordering: "+op+" конфликт", zap.Error(err))
	default:
		log.Info("ordering: "+op+" отклонено", zap.Int("status", status), zap.Error(err))
	}
	helpers.OrderingError(w, err)
}

// ServerTree
// @Summary      Дерево сервера
// @Description  Секции с вложенными секциями и каналами, всё отсортировано по позиции
// @Tags         ordering
// @Produce      json
// @Param        serverId  path  string  true  "ID сервера"
// @Success      200 {object} models.ServerTree
// @Failure      403 {object} helpers.Response
// @Failure      404 {object} helpers.Response
// @Failure      503 {object} helpers.Response
// @Security     BearerAuth
// @Router       /api/servers/{serverId}/tree [get]
func (h *OrderingHandler) ServerTree(w http.ResponseWriter, r *http.Request) {
	serverID := mux.Vars(r)["serverId"]

	tree, err := h.svc.ServerTree(r.Context(), serverID, actor(r))
	if err != nil {
		fail(w, r, "tree", err)
		return
	}
	helpers.JSON(w, http.StatusOK, tree)
}

// ReorderSection
// @Summary      Переместить секцию
// @Description  Новая позиция в списке соседей; newParentId: не передан — тот же родитель, null — корень
// @Tags         ordering
// @Accept       json
// @Produce      json
// @Param        serverId  path  string                        true  "ID сервера"
// @Param        body      body  models.ReorderSectionRequest  true  "Перемещение"
// @Success      200 {object} models.BulkReorderResult
// @Failure      400 {object} helpers.Response
// @Failure      403 {object} helpers.Response
// @Failure      409 {object} helpers.Response
// @Failure      422 {object} helpers.Response
// @Security     BearerAuth
// @Router       /api/servers/{serverId}/sections/reorder [put]
func (h *OrderingHandler) ReorderSection(w http.ResponseWriter, r *http.Request) {
	var req models.ReorderSectionRequest
	if err := decode(w, r, &req); err != nil {
		logger.WithCtx(r.Context()).Warn("ordering: невалидный JSON", zap.Error(err))
		helpers.Error(w, http.StatusBadRequest, "bad json")
		return
	}
	req.ServerID = mux.Vars(r)["serverId"]

	ok, err := h.svc.ReorderSection(r.Context(), req, actor(r))
	if err != nil {
		fail(w, r, "reorder_section", err)
		return
	}
	helpers.JSON(w, http.StatusOK, models.BulkReorderResult{Success: ok})
}

// ReorderSections
// @Summary      Полный порядок корневых секций
// @Tags         ordering
// @Accept       json
// @Produce      json
// @Param        serverId  path  string                             true  "ID сервера"
// @Param        body      body  models.BulkReorderSectionsRequest  true  "Порядок"
// @Success      200 {object} models.BulkReorderResult
// @Failure      400 {object} helpers.Response
// @Failure      409 {object} helpers.Response
// @Failure      422 {object} helpers.Response
// @Security     BearerAuth
// @Router       /api/servers/{serverId}/sections/order [put]
func (h *OrderingHandler) ReorderSections(w http.ResponseWriter, r *http.Request) {
	var req models.BulkReorderSectionsRequest
	if err := decode(w, r, &req); err != nil {
		helpers.Error(w, http.StatusBadRequest, "bad json")
		return
	}

	res, err := h.svc.ReorderSections(r.Context(), mux.Vars(r)["serverId"], req.SectionOrder, actor(r))
	if err != nil {
		fail(w, r, "reorder_sections", err)
		return
	}
	helpers.JSON(w, http.StatusOK, res)
}

// CreateSection
// @Summary      Создать секцию
// @Description  Секция добавляется в конец своего списка соседей
// @Tags         ordering
// @Accept       json
// @Produce      json
// @Param        serverId  path  string                      true  "ID сервера"
// @Param        body      body  models.CreateSectionParams  true  "Секция"
// @Success      201 {object} models.Section
// @Failure      400 {object} helpers.Response
// @Failure      403 {object} helpers.Response
// @Security     BearerAuth
// @Router       /api/servers/{serverId}/sections [post]
func (h *OrderingHandler) CreateSection(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSectionParams
	if err := decode(w, r, &req); err != nil {
		helpers.Error(w, http.StatusBadRequest, "bad json")
		return
	}
	req.ServerID = mux.Vars(r)["serverId"]

	sec, err := h.svc.CreateSection(r.Context(), req, actor(r))
	if err != nil {
		fail(w, r, "create_section", err)
		return
	}
	helpers.JSON(w, http.StatusCreated, sec)
}

// RenameSection
// @Summary      Переименовать секцию
// @Tags         ordering
// @Accept       json
// @Produce      json
// @Param        serverId   path  string  true  "ID сервера"
// @Param        sectionId  path  string  true  "ID секции"
// @Success      200 {object} models.Section
// @Failure      400 {object} helpers.Response
// @Failure      404 {object} helpers.Response
// @Security     BearerAuth
// @Router       /api/servers/{serverId}/sections/{sectionId} [patch]
func (h *OrderingHandler) RenameSection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req renameSectionRequest
	if err := decode(w, r, &req); err != nil {
		helpers.Error(w, http.StatusBadRequest, "bad json")
		return
	}

	sec, err := h.svc.RenameSection(r.Context(), vars["serverId"], vars["sectionId"], req.Name, actor(r))
	if err != nil {
		fail(w, r, "rename_section", err)
		return
	}
	helpers.JSON(w, http.StatusOK, sec)
}

// DeleteSection
// @Summary      Удалить секцию
// @Description  Дочерние секции и каналы переходят в секцию по умолчанию
// @Tags         ordering
// @Param        serverId   path  string  true  "ID сервера"
// @Param        sectionId  path  string  true  "ID секции"
// @Success      204
// @Failure      400 {object} helpers.Response
// @Failure      404 {object} helpers.Response
// @Failure      422 {object} helpers.Response
// @Security     BearerAuth
// @Router       /api/servers/{serverId}/sections/{sectionId} [delete]
func (h *OrderingHandler) DeleteSection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.svc.DeleteSection(r.Context(), vars["serverId"], vars["sectionId"], actor(r)); err != nil {
		fail(w, r, "delete_section", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReorderChannels
// @Summary      Переместить каналы
// @Description  Перемещения применяются по очереди одной транзакцией; newSectionId: не передан — та же секция, null — без секции
// @Tags         ordering
// @Accept       json
// @Produce      json
// @Param        serverId  path  string                         true  "ID сервера"
// @Param        body      body  models.ReorderChannelsRequest  true  "Перемещения"
// @Success      200 {array}  models.Channel
// @Failure      400 {object} helpers.Response
// @Failure      409 {object} helpers.Response
// @Failure      422 {object} helpers.Response
// @Security     BearerAuth
// @Router       /api/servers/{serverId}/channels/reorder [put]
func (h *OrderingHandler) ReorderChannels(w http.ResponseWriter, r *http.Request) {
	var req models.ReorderChannelsRequest
	if err := decode(w, r, &req); err != nil {
		helpers.Error(w, http.StatusBadRequest, "bad json")
		return
	}
	req.ServerID = mux.Vars(r)["serverId"]

	chs, err := h.svc.ReorderChannels(r.Context(), req, actor(r))
	if err != nil {
		fail(w, r, "reorder_channels", err)
		return
	}
	helpers.JSON(w, http.StatusOK, chs)
}

// ReorderChannelsBulk
// @Summary      Полный порядок каналов секции
// @Tags         ordering
// @Accept       json
// @Produce      json
// @Param        serverId  path  string                             true  "ID сервера"
// @Param        body      body  models.BulkReorderChannelsRequest  true  "Порядок"
// @Success      200 {object} models.BulkReorderResult
// @Failure      400 {object} helpers.Response
// @Failure      409 {object} helpers.Response
// @Failure      422 {object} helpers.Response
// @Security     BearerAuth
// @Router       /api/servers/{serverId}/channels/order [put]
func (h *OrderingHandler) ReorderChannelsBulk(w http.ResponseWriter, r *http.Request) {
	var req models.BulkReorderChannelsRequest
	if err := decode(w, r, &req); err != nil {
		helpers.Error(w, http.StatusBadRequest, "bad json")
		return
	}

	res, err := h.svc.ReorderChannelsBulk(r.Context(), mux.Vars(r)["serverId"], req.SectionID, req.ChannelOrder, actor(r))
	if err != nil {
		fail(w, r, "reorder_channels_bulk", err)
		return
	}
	helpers.JSON(w, http.StatusOK, res)
}

// CreateChannel
// @Summary      Создать канал
// @Tags         ordering
// @Accept       json
// @Produce      json
// @Param        serverId  path  string                      true  "ID сервера"
// @Param        body      body  models.CreateChannelParams  true  "Канал"
// @Success      201 {object} models.Channel
// @Failure      400 {object} helpers.Response
// @Security     BearerAuth
// @Router       /api/servers/{serverId}/channels [post]
func (h *OrderingHandler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	var req models.CreateChannelParams
	if err := decode(w, r, &req); err != nil {
		helpers.Error(w, http.StatusBadRequest, "bad json")
		return
	}
	req.ServerID = mux.Vars(r)["serverId"]

	ch, err := h.svc.CreateChannel(r.Context(), req, actor(r))
	if err != nil {
		fail(w, r, "create_channel", err)
		return
	}
	helpers.JSON(w, http.StatusCreated, ch)
}

// DeleteChannel
// @Summary      Удалить канал
// @Tags         ordering
// @Param        serverId   path  string  true  "ID сервера"
// @Param        channelId  path  string  true  "ID канала"
// @Success      204
// @Failure      404 {object} helpers.Response
// @Security     BearerAuth
// @Router       /api/servers/{serverId}/channels/{channelId} [delete]
func (h *OrderingHandler) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.svc.DeleteChannel(r.Context(), vars["serverId"], vars["channelId"], actor(r)); err != nil {
		fail(w, r, "delete_channel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Apply
// @Summary      Единый запрос упорядочивания
// @Description  kind=single_move с полем move или kind=bulk_replace с полем bulk; entity=section|channel
// @Tags         ordering
// @Accept       json
// @Produce      json
// @Param        serverId  path  string                  true  "ID сервера"
// @Param        body      body  models.OrderingRequest  true  "Запрос"
// @Success      200 {object} services.ApplyResult
// @Failure      400 {object} helpers.Response
// @Failure      409 {object} helpers.Response
// @Failure      422 {object} helpers.Response
// @Security     BearerAuth
// @Router       /api/servers/{serverId}/ordering [post]
func (h *OrderingHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req models.OrderingRequest
	if err := decode(w, r, &req); err != nil {
		helpers.Error(w, http.StatusBadRequest, "bad json")
		return
	}

	res, err := h.svc.Apply(r.Context(), mux.Vars(r)["serverId"], req, actor(r))
	if err != nil {
		fail(w, r, "apply", err)
		return
	}
	helpers.JSON(w, http.StatusOK, res)
}
