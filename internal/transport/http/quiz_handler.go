package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"quiz-delivery-service/internal/app"
	"quiz-delivery-service/internal/delivery"
	"quiz-delivery-service/internal/domain"
)

// QuizHandler exposes the request/response quiz operations over REST.
type QuizHandler struct {
	service *app.QuizService
}

func NewQuizHandler(service *app.QuizService) *QuizHandler {
	return &QuizHandler{service: service}
}

// Register mounts the handler's routes on g.
func (h *QuizHandler) Register(g *gin.RouterGroup) {
	g.GET("/headers", h.SearchHeaders)
	g.GET("/:quizId/header", h.Header)
	g.GET("/next-question", h.NextQuestion)
	g.POST("/assign", h.Assign)
	g.GET("/users/:userId/attempts", h.UserAttempts)
	g.POST("/start/:resultId", h.StartQuiz)
	g.POST("/submit-answer", h.SubmitAnswer)
	g.POST("/submit/:resultId", h.SubmitQuiz)
	g.GET("/score", h.Score)
	g.GET("/results/:resultId/responses", h.Responses)
}

type quizURI struct {
	QuizID int64 `uri:"quizId" binding:"required,gt=0"`
}

type resultURI struct {
	ResultID int64 `uri:"resultId" binding:"required,gt=0"`
}

type userURI struct {
	UserID int64 `uri:"userId" binding:"required,gt=0"`
}

type nextQuestionQuery struct {
	QuizID      int64 `form:"quizId" binding:"required,gt=0"`
	SequenceNum int   `form:"sequenceNum" binding:"required,gt=0"`
}

type headersQuery struct {
	Name        string `form:"quizName" binding:"max=200"`
	Description string `form:"description" binding:"max=200"`
	Page        int    `form:"page"`
	PageSize    int    `form:"pageSize"`
}

type scoreQuery struct {
	ResultID           int64 `form:"resultId" binding:"required,gt=0"`
	WeightByDifficulty bool  `form:"weightByDifficulty"`
}

type assignRequest struct {
	UserID int64 `json:"userId" binding:"required,gt=0"`
	QuizID int64 `json:"quizId" binding:"required,gt=0"`
}

// submitAnswerRequest accepts a single answerId or, for multi-select
// questions, answerIds. Neither means the question went unanswered.
type submitAnswerRequest struct {
	ResultID            int64   `json:"resultId" binding:"required,gt=0"`
	UserID              int64   `json:"userId" binding:"required,gt=0"`
	QuizID              int64   `json:"quizId" binding:"required,gt=0"`
	QuestionID          int64   `json:"questionId" binding:"required,gt=0"`
	AnswerID            *int64  `json:"answerId" binding:"omitempty,gt=0"`
	AnswerIDs           []int64 `json:"answerIds" binding:"omitempty,dive,gt=0"`
	ResponseTimeSeconds int     `json:"responseTimeSeconds" binding:"min=0"`
	TimedOut            bool    `json:"answerTimedOut"`
}

type scoreResponse struct {
	Summary domain.ScoreSummary  `json:"summary"`
	Details []domain.ScoreDetail `json:"details"`
}

func (h *QuizHandler) Header(c *gin.Context) {
	var uri quizURI
	if err := c.ShouldBindUri(&uri); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	header, err := h.service.Header(c.Request.Context(), uri.QuizID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, header)
}

// NextQuestion returns the question at a sequence position without revealing
// which options are correct.
func (h *QuizHandler) NextQuestion(c *gin.Context) {
	var q nextQuestionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	question, err := h.service.QuestionAt(c.Request.Context(), q.QuizID, q.SequenceNum)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, delivery.NewQuestionView(question, q.SequenceNum))
}

func (h *QuizHandler) SearchHeaders(c *gin.Context) {
	var q headersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	headers, err := h.service.SearchHeaders(c.Request.Context(), domain.HeaderFilter{
		Name:        q.Name,
		Description: q.Description,
		Page:        q.Page,
		PageSize:    q.PageSize,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, headers)
}

func (h *QuizHandler) Assign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	attempt, err := h.service.Assign(c.Request.Context(), req.UserID, req.QuizID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, attempt)
}

func (h *QuizHandler) UserAttempts(c *gin.Context) {
	var uri userURI
	if err := c.ShouldBindUri(&uri); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	attempts, err := h.service.UserAttempts(c.Request.Context(), uri.UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, attempts)
}

func (h *QuizHandler) StartQuiz(c *gin.Context) {
	var uri resultURI
	if err := c.ShouldBindUri(&uri); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	started, err := h.service.StartQuiz(c.Request.Context(), uri.ResultID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "quiz started",
		"resultId":  uri.ResultID,
		"startTime": started.Format(time.RFC3339),
	})
}

func (h *QuizHandler) SubmitAnswer(c *gin.Context) {
	var req submitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	ids := req.AnswerIDs
	if req.AnswerID != nil {
		ids = append([]int64{*req.AnswerID}, ids...)
	}
	err := h.service.SubmitAnswer(c.Request.Context(), app.SubmitAnswerRequest{
		ResultID:            req.ResultID,
		UserID:              req.UserID,
		QuizID:              req.QuizID,
		QuestionID:          req.QuestionID,
		AnswerIDs:           ids,
		ResponseTimeSeconds: req.ResponseTimeSeconds,
		TimedOut:            req.TimedOut,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *QuizHandler) SubmitQuiz(c *gin.Context) {
	var uri resultURI
	if err := c.ShouldBindUri(&uri); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	report, err := h.service.SubmitQuiz(c.Request.Context(), uri.ResultID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "quiz submitted",
		"summary": report.Summary,
		"details": report.Details,
	})
}

func (h *QuizHandler) Score(c *gin.Context) {
	var q scoreQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	report, err := h.service.Score(c.Request.Context(), q.ResultID, q.WeightByDifficulty)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, scoreResponse{Summary: report.Summary, Details: report.Details})
}

func (h *QuizHandler) Responses(c *gin.Context) {
	var uri resultURI
	if err := c.ShouldBindUri(&uri); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	responses, err := h.service.Responses(c.Request.Context(), uri.ResultID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, responses)
}
