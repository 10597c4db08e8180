package identify

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/reconcile"
	"github.com/Ramsey-B/clover/pkg/utils"
)

// Register registers identify routes
func Register(g *echo.Group) {
	g.POST("/identify", Identify)
	g.GET("/identify/:id", GetCluster)
}

// Identify reconciles the submitted contact info into its person-cluster and
// returns the consolidated view.
func Identify(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[models.IdentifyRequest](c)
	if err != nil {
		return err
	}

	// empty strings are treated as absent
	if req.Email != nil && *req.Email == "" {
		req.Email = nil
	}
	if req.PhoneNumber != nil && *req.PhoneNumber == "" {
		req.PhoneNumber = nil
	}
	if req.Email == nil && req.PhoneNumber == nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "either email or phoneNumber is required")
	}

	ctx, engine, err := ectoinject.GetContext[*reconcile.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "reconcile engine not available")
	}

	view, err := engine.Identify(ctx, req.Email, req.PhoneNumber)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.IdentifyResponse{Contact: *view})
}

// GetCluster returns the consolidated view for any contact id in a cluster
// without mutating anything.
func GetCluster(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "contact id must be an integer")
	}

	ctx, engine, err := ectoinject.GetContext[*reconcile.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "reconcile engine not available")
	}

	view, err := engine.View(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.IdentifyResponse{Contact: *view})
}
