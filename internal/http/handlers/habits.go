package handlers

import (
	"context"
	"net/http"

	"github.com/geocoder89/habithub/internal/domain/habit"
	"github.com/gin-gonic/gin"
)

type HabitService interface {
	ListHabits(ctx context.Context, userID string) ([]habit.Habit, error)
	AddHabits(ctx context.Context, userID string, entries []habit.NewHabit) ([]habit.Habit, error)
	UpdateProgress(ctx context.Context, userID, habitID string, progress habit.Progress, ifVersion int) (habit.Habit, error)
	DeleteHabit(ctx context.Context, userID, habitID string) error
	HabitStats(ctx context.Context, userID, habitID string) (habit.Stats, error)
	FillRandomDay(ctx context.Context, userID, habitID string, mark habit.Mark) (habit.Habit, error)
}

type HabitsHandler struct {
	svc HabitService
}

func NewHabitsHandler(svc HabitService) *HabitsHandler {
	return &HabitsHandler{svc: svc}
}

// ListHabits answers with the caller's habits keyed by their user id.
func (h *HabitsHandler) ListHabits(ctx *gin.Context) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return
	}

	list, err := h.svc.ListHabits(ctx.Request.Context(), userID)
	if err != nil {
		respondGatewayError(ctx, err, "Could not list habits")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{userID: list})
}

func (h *HabitsHandler) CreateHabits(ctx *gin.Context) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return
	}

	var req habit.CreateHabitsRequest
	if !BindJSON(ctx, &req) {
		return
	}

	created, err := h.svc.AddHabits(ctx.Request.Context(), userID, req.Habits)
	if err != nil {
		respondGatewayError(ctx, err, "Could not save habits")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Habits saved successfully",
		"results": created,
	})
}

func (h *HabitsHandler) UpdateProgress(ctx *gin.Context) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return
	}

	var req habit.UpdateProgressRequest
	if !BindJSON(ctx, &req) {
		return
	}

	updated, err := h.svc.UpdateProgress(ctx.Request.Context(), userID, ctx.Param("id"), req.Progress, req.Version)
	if err != nil {
		respondGatewayError(ctx, err, "Could not update habit")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Habit progress updated",
		"version": updated.Version,
	})
}

func (h *HabitsHandler) DeleteHabit(ctx *gin.Context) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return
	}

	if err := h.svc.DeleteHabit(ctx.Request.Context(), userID, ctx.Param("id")); err != nil {
		respondGatewayError(ctx, err, "Could not delete habit")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"message": "Habit deleted successfully"})
}

func (h *HabitsHandler) Stats(ctx *gin.Context) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return
	}

	stats, err := h.svc.HabitStats(ctx.Request.Context(), userID, ctx.Param("id"))
	if err != nil {
		respondGatewayError(ctx, err, "Could not compute stats")
		return
	}

	ctx.JSON(http.StatusOK, stats)
}

func (h *HabitsHandler) FillRandomDay(ctx *gin.Context) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return
	}

	var req habit.FillRequest
	if !BindJSON(ctx, &req) {
		return
	}

	updated, err := h.svc.FillRandomDay(ctx.Request.Context(), userID, ctx.Param("id"), req.Mark)
	if err != nil {
		respondGatewayError(ctx, err, "Could not mark a day")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message":  "Random day marked",
		"habit":    updated,
		"complete": habit.ComputeStats(updated.Progress).Complete,
	})
}
