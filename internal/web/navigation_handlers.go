package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"webplanner/internal/geo"
	"webplanner/internal/navigation"
)

// placeInput 坐标或地址二选一，坐标优先
type placeInput struct {
	Longitude *float64 `json:"longitude"`
	Latitude  *float64 `json:"latitude"`
	Address   string   `json:"address"`
}

type navigationRequest struct {
	Origin      placeInput   `json:"origin"`
	Destination placeInput   `json:"destination"`
	Mode        string       `json:"mode"`
	City        string       `json:"city"`
	Waypoints   []placeInput `json:"waypoints"`
}

func (ws *WebServer) defaultMode() navigation.Mode {
	if m := ws.cfg().Navigation.DefaultMode; m != "" {
		return navigation.Mode(m)
	}
	return navigation.Driving
}

// resolvePlace turns an address into a point through the resolver. The
// request city is used as the hint.
func (ws *WebServer) resolvePlace(ctx context.Context, p placeInput, city string) (geo.Point, error) {
	if p.Longitude != nil && p.Latitude != nil {
		return geo.Point{Longitude: *p.Longitude, Latitude: *p.Latitude}, nil
	}
	if strings.TrimSpace(p.Address) == "" || ws.deps.Resolver == nil {
		return geo.Point{}, navigation.ErrBadPoint
	}
	loc, err := ws.deps.Resolver.Resolve(ctx, p.Address, city)
	if err != nil {
		return geo.Point{}, err
	}
	return geo.Point{Longitude: loc.Longitude, Latitude: loc.Latitude}, nil
}

func (ws *WebServer) bindNavigation(c *gin.Context) (navigation.Request, bool) {
	var body navigationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "请求体无效: "+err.Error())
		return navigation.Request{}, false
	}
	mode, err := navigation.ParseMode(body.Mode, ws.defaultMode())
	if err != nil {
		writeError(c, err)
		return navigation.Request{}, false
	}

	ctx := c.Request.Context()
	req := navigation.Request{Mode: mode, City: strings.TrimSpace(body.City)}
	if req.Origin, err = ws.resolvePlace(ctx, body.Origin, req.City); err != nil {
		writeError(c, err)
		return navigation.Request{}, false
	}
	if req.Destination, err = ws.resolvePlace(ctx, body.Destination, req.City); err != nil {
		writeError(c, err)
		return navigation.Request{}, false
	}
	for _, wp := range body.Waypoints {
		p, err := ws.resolvePlace(ctx, wp, req.City)
		if err != nil {
			writeError(c, err)
			return navigation.Request{}, false
		}
		req.Waypoints = append(req.Waypoints, p)
	}
	return req, true
}

func (ws *WebServer) handleNavigationRoute(c *gin.Context) {
	if ws.deps.Navigator == nil {
		unavailable(c, "路径规划")
		return
	}
	req, ok := ws.bindNavigation(c)
	if !ok {
		return
	}
	plan, err := ws.deps.Navigator.Plan(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (ws *WebServer) handleNavigationDistance(c *gin.Context) {
	if ws.deps.Navigator == nil {
		unavailable(c, "路径规划")
		return
	}
	req, ok := ws.bindNavigation(c)
	if !ok {
		return
	}
	sum, err := ws.deps.Navigator.DistanceAndTime(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
