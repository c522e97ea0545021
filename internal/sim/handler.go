package sim

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/domain/workflow"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/apiclient"
	"github.com/ICFAI-medical-app/Medical-camp-frontend-sub000/internal/platform/session"
)

type Handler struct {
	camp   *Camp
	issuer *Issuer
}

func NewHandler(camp *Camp, issuer *Issuer) *Handler {
	return &Handler{camp: camp, issuer: issuer}
}

// RequireUserType rejects requests whose token carries another user type.
func RequireUserType(types ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ut, _ := c.Get("user_type").(string)
			for _, t := range types {
				if t == ut {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "user type not permitted")
		}
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/login", h.Login)

	authed := api.Group("", h.issuer.Middleware())

	// Reads open to every signed-in desk
	authed.GET("/doctors", h.ListDoctors)
	authed.GET("/doctors/:id/queue", h.GetQueue)
	authed.GET("/patients/:book/status", h.GetStatus)
	authed.GET("/patients/:book/assignment", h.GetAssignment)
	authed.GET("/medicines/stock", h.GetStock)
	authed.GET("/analytics/summary", h.GetSummary)
	authed.GET("/realtime/poll", h.Poll)

	// Desk writes
	desk := authed.Group("", RequireUserType(session.UserTypeAdmin, session.UserTypeVolunteer, session.UserTypeDoctor))
	desk.POST("/patients", h.RegisterPatient)
	desk.POST("/patients/:book/assignment", h.AssignDoctor)
	desk.POST("/patients/:book/vitals", h.RecordVitals)
	desk.POST("/patients/:book/pickup", h.Pickup)
	desk.POST("/patients/:book/counselling", h.markStage(workflow.StageCounselling))
	desk.POST("/patients/:book/food", h.markStage(workflow.StageFood))
	desk.POST("/patients/:book/lab-tests", h.LabTests)

	// Consultation
	clinical := authed.Group("", RequireUserType(session.UserTypeAdmin, session.UserTypeDoctor))
	clinical.POST("/doctors/:id/queue/next", h.AssignNext)
	clinical.POST("/patients/:book/prescription", h.Prescribe)
}

// -- Auth --

func (h *Handler) Login(c echo.Context) error {
	var req apiclient.LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	resp, err := h.issuer.Login(req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// -- Doctors and queues --

func (h *Handler) ListDoctors(c echo.Context) error {
	return c.JSON(http.StatusOK, h.camp.Doctors())
}

func (h *Handler) GetQueue(c echo.Context) error {
	q, err := h.camp.Queue(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) AssignNext(c echo.Context) error {
	res, err := h.camp.AssignNext(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// -- Patients --

func (h *Handler) RegisterPatient(c echo.Context) error {
	var p apiclient.Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.camp.Register(p); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"message": "patient registered"})
}

func (h *Handler) GetStatus(c echo.Context) error {
	s, err := h.camp.Status(c.Param("book"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) GetAssignment(c echo.Context) error {
	a, err := h.camp.Assignment(c.Param("book"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) AssignDoctor(c echo.Context) error {
	var req apiclient.AssignDoctorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.camp.AssignDoctor(c.Param("book"), req.DoctorID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "doctor assigned"})
}

func (h *Handler) RecordVitals(c echo.Context) error {
	var v apiclient.Vitals
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.camp.RecordVitals(c.Param("book"), v); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "vitals recorded"})
}

func (h *Handler) Prescribe(c echo.Context) error {
	var lines []apiclient.MedicineLine
	if err := c.Bind(&lines); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.camp.Prescribe(c.Param("book"), lines); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "prescription saved"})
}

func (h *Handler) Pickup(c echo.Context) error {
	var lines []apiclient.MedicineLine
	if err := c.Bind(&lines); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.camp.Pickup(c.Param("book"), lines); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "medicines given"})
}

func (h *Handler) LabTests(c echo.Context) error {
	var req apiclient.LabTestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Tests) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one test is required")
	}
	if err := h.camp.MarkStage(c.Param("book"), workflow.StageLabTests); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "lab tests recorded"})
}

func (h *Handler) markStage(stage workflow.Stage) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := h.camp.MarkStage(c.Param("book"), stage); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]string{"message": string(stage) + " recorded"})
	}
}

// -- Stock, analytics, polling --

func (h *Handler) GetStock(c echo.Context) error {
	return c.JSON(http.StatusOK, h.camp.Stock())
}

func (h *Handler) GetSummary(c echo.Context) error {
	return c.JSON(http.StatusOK, h.camp.Summary())
}

func (h *Handler) Poll(c echo.Context) error {
	var cursor int64
	if raw := c.QueryParam("cursor"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "cursor must be a non-negative integer")
		}
		cursor = n
	}
	var rooms []string
	for _, r := range strings.Split(c.QueryParam("rooms"), ",") {
		if r = strings.TrimSpace(r); r != "" {
			rooms = append(rooms, r)
		}
	}
	events, next := h.camp.Since(rooms, cursor)
	return c.JSON(http.StatusOK, apiclient.PollResponse{Cursor: next, Events: events})
}
