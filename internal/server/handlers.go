package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shouni/go-manga-studio/pkg/domain"
	"github.com/shouni/go-manga-studio/pkg/generator"
	"github.com/shouni/go-manga-studio/pkg/notify"

	"github.com/gin-gonic/gin"
)

var errBadRequest = errors.New("リクエストが不正です")

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type continuityRequest struct {
	SubPanelID string `json:"sub_panel_id"`
}

type deleteContentRequest struct {
	ClearPrompt bool `json:"clear_prompt"`
}

func (s *Server) getProject(c *gin.Context) {
	p, err := s.manager.Store().Snapshot(c.Request.Context(), c.Param("user"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// putProject はエディタから送られたプロジェクト全体で置き換えます。
func (s *Server) putProject(c *gin.Context) {
	var incoming domain.Project
	if err := c.ShouldBindJSON(&incoming); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if len(incoming.Chapters) == 0 {
		respondError(c, fmt.Errorf("%w: 章が1つ以上必要です", errBadRequest))
		return
	}
	for _, ch := range incoming.Chapters {
		for _, pn := range ch.Panels {
			if err := pn.Validate(); err != nil {
				respondError(c, err)
				return
			}
		}
	}

	p, err := s.manager.Store().Update(c.Request.Context(), c.Param("user"), func(p *domain.Project) error {
		*p = incoming
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) getStatus(c *gin.Context) {
	sched := s.manager.Session(c.Param("user")).Scheduler
	c.JSON(http.StatusOK, gin.H{
		"statuses": sched.Statuses(),
		"failed":   sched.Failed(),
	})
}

func (s *Server) getNotices(c *gin.Context) {
	notices := s.manager.Session(c.Param("user")).Notices.Drain()
	if notices == nil {
		notices = []notify.Notice{}
	}
	c.JSON(http.StatusOK, notices)
}

func (s *Server) generate(c *gin.Context) {
	user := c.Param("user")
	sched := s.manager.Session(user).Scheduler
	added, err := sched.Discover(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	s.manager.Kick(user)
	c.JSON(http.StatusAccepted, gin.H{"queued": added})
}

// regenerate は画像がある場合 ?confirm=true を必要とするのだ。
func (s *Server) regenerate(c *gin.Context) {
	ctx := notify.WithConfirmation(c.Request.Context(), c.Query("confirm") == "true")
	if err := s.scheduler(c).Regenerate(ctx, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) deleteContent(c *gin.Context) {
	var req deleteContentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	if err := s.scheduler(c).DeleteContent(c.Request.Context(), c.Param("id"), req.ClearPrompt); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) editPrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.scheduler(c).EditPrompt(c.Request.Context(), c.Param("id"), req.Prompt); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setContinuity(c *gin.Context) {
	var req continuityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.scheduler(c).SetContinuity(c.Request.Context(), c.Param("id"), req.SubPanelID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setReferences(c *gin.Context) {
	var req generator.References
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.scheduler(c).SetReferences(c.Request.Context(), c.Param("id"), req); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) scheduler(c *gin.Context) *generator.Scheduler {
	return s.manager.Session(c.Param("user")).Scheduler
}
