package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"webplanner/internal/itinerary"
	"webplanner/internal/navigation"
	"webplanner/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func parseStatus(s string) (storage.TripStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "planning":
		return storage.StatusPlanning, true
	case "1", "completed":
		return storage.StatusCompleted, true
	default:
		return 0, false
	}
}

func (ws *WebServer) handleListTrips(c *gin.Context) {
	if ws.deps.Trips == nil {
		unavailable(c, "行程存储")
		return
	}

	opts := storage.ListOptions{Limit: defaultPageSize}
	if s := c.Query("status"); s != "" {
		status, ok := parseStatus(s)
		if !ok {
			badRequest(c, "status 必须为 planning 或 completed")
			return
		}
		opts.Status = &status
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			badRequest(c, "limit 必须为正整数")
			return
		}
		opts.Limit = min(n, maxPageSize)
	}
	if s := c.Query("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			badRequest(c, "offset 必须为非负整数")
			return
		}
		opts.Offset = n
	}

	trips, err := ws.deps.Trips.List(c.Request.Context(), opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trips":  trips,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

func (ws *WebServer) handleCreateTrip(c *gin.Context) {
	if ws.deps.Trips == nil {
		unavailable(c, "行程存储")
		return
	}
	var trip storage.Trip
	if err := c.ShouldBindJSON(&trip); err != nil {
		badRequest(c, "请求体无效: "+err.Error())
		return
	}
	trip.ID = ""
	if err := ws.deps.Trips.Create(c.Request.Context(), &trip); err != nil {
		writeError(c, err)
		return
	}
	ws.log().Info("🧳 [行程] 已创建", "trip_id", trip.ID, "destination", trip.Destination)
	c.JSON(http.StatusCreated, trip)
}

func (ws *WebServer) handleGetTrip(c *gin.Context) {
	if ws.deps.Trips == nil {
		unavailable(c, "行程存储")
		return
	}
	trip, err := ws.deps.Trips.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trip)
}

func (ws *WebServer) handleUpdateTrip(c *gin.Context) {
	if ws.deps.Trips == nil {
		unavailable(c, "行程存储")
		return
	}
	// 只修改请求体中出现的字段
	var patch storage.TripPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "请求体无效: "+err.Error())
		return
	}
	updated, err := ws.deps.Trips.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (ws *WebServer) handleDeleteTrip(c *gin.Context) {
	if ws.deps.Trips == nil {
		unavailable(c, "行程存储")
		return
	}
	if err := ws.deps.Trips.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type statusRequest struct {
	Status *storage.TripStatus `json:"status" binding:"required"`
}

func (ws *WebServer) handleUpdateTripStatus(c *gin.Context) {
	if ws.deps.Trips == nil {
		unavailable(c, "行程存储")
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求体无效: "+err.Error())
		return
	}
	if err := ws.deps.Trips.UpdateStatus(c.Request.Context(), c.Param("id"), *req.Status); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": *req.Status})
}

// handleGenerateItinerary asks the model for an itinerary, attaches
// coordinates to every stop it can resolve and saves the result. Stops that
// cannot be located keep no coordinates; they never fail the request.
func (ws *WebServer) handleGenerateItinerary(c *gin.Context) {
	if ws.deps.Trips == nil || ws.deps.Planner == nil {
		unavailable(c, "行程生成")
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	trip, err := ws.deps.Trips.Get(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := ws.deps.Planner.Generate(ctx, trip)
	if err != nil {
		writeError(c, err)
		return
	}

	var summary *itinerary.LocateSummary
	if ws.deps.Resolver != nil && c.Query("locate") != "false" {
		s, err := itinerary.Locate(ctx, ws.deps.Resolver, trip.Destination, result.Items)
		if err != nil {
			writeError(c, err)
			return
		}
		summary = &s
	}

	if err := ws.deps.Trips.ReplaceItinerary(ctx, id, result.Items, true); err != nil {
		writeError(c, err)
		return
	}
	updated, err := ws.deps.Trips.Get(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trip":     updated,
		"parsed":   result.Parsed,
		"model":    result.Model,
		"usage":    result.Usage,
		"attempts": result.Attempts,
		"elapsed":  result.Elapsed.String(),
		"locate":   summary,
	})
}

func (ws *WebServer) handleAddExpense(c *gin.Context) {
	if ws.deps.Trips == nil {
		unavailable(c, "行程存储")
		return
	}
	var expense storage.Expense
	if err := c.ShouldBindJSON(&expense); err != nil {
		badRequest(c, "请求体无效: "+err.Error())
		return
	}
	saved, err := ws.deps.Trips.AddExpense(c.Request.Context(), c.Param("id"), expense)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (ws *WebServer) handleUpdateExpense(c *gin.Context) {
	if ws.deps.Trips == nil {
		unavailable(c, "行程存储")
		return
	}
	var patch storage.ExpensePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "请求体无效: "+err.Error())
		return
	}
	saved, err := ws.deps.Trips.UpdateExpense(c.Request.Context(), c.Param("id"), c.Param("expenseId"), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (ws *WebServer) handleDeleteExpense(c *gin.Context) {
	if ws.deps.Trips == nil {
		unavailable(c, "行程存储")
		return
	}
	if err := ws.deps.Trips.DeleteExpense(c.Request.Context(), c.Param("id"), c.Param("expenseId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (ws *WebServer) handleExpenseStats(c *gin.Context) {
	if ws.deps.Trips == nil {
		unavailable(c, "行程存储")
		return
	}
	stats, err := ws.deps.Trips.ExpenseStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (ws *WebServer) handleAddItineraryItem(c *gin.Context) {
	if ws.deps.Trips == nil {
		unavailable(c, "行程存储")
		return
	}
	var item storage.ItineraryItem
	if err := c.ShouldBindJSON(&item); err != nil {
		badRequest(c, "请求体无效: "+err.Error())
		return
	}
	saved, err := ws.deps.Trips.AddItineraryItem(c.Request.Context(), c.Param("id"), item)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (ws *WebServer) handleUpdateItineraryItem(c *gin.Context) {
	if ws.deps.Trips == nil {
		unavailable(c, "行程存储")
		return
	}
	var patch storage.ItineraryItemPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "请求体无效: "+err.Error())
		return
	}
	saved, err := ws.deps.Trips.UpdateItineraryItem(c.Request.Context(), c.Param("id"), c.Param("itemId"), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (ws *WebServer) handleDeleteItineraryItem(c *gin.Context) {
	if ws.deps.Trips == nil {
		unavailable(c, "行程存储")
		return
	}
	if err := ws.deps.Trips.DeleteItineraryItem(c.Request.Context(), c.Param("id"), c.Param("itemId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleTripDistances computes the legs between consecutive located stops
// of a trip. Legs that fail carry their own error.
func (ws *WebServer) handleTripDistances(c *gin.Context) {
	if ws.deps.Trips == nil || ws.deps.Navigator == nil {
		unavailable(c, "路径规划")
		return
	}
	mode, err := navigation.ParseMode(c.Query("mode"), ws.defaultMode())
	if err != nil {
		writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	trip, err := ws.deps.Trips.Get(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	legs, err := ws.deps.Navigator.ItineraryDistances(ctx, trip.Itinerary, mode, trip.Destination)
	if err != nil {
		writeError(c, err)
		return
	}
	var distance, duration int
	for _, leg := range legs {
		distance += leg.Distance
		duration += leg.Duration
	}
	c.JSON(http.StatusOK, gin.H{
		"trip_id":        trip.ID,
		"mode":           mode,
		"legs":           legs,
		"advice":         navigation.BuildAdvice(legs),
		"total_distance": distance,
		"total_duration": duration,
	})
}
