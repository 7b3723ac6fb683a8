package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"omnibot/internal/storage"
)

type credentials struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name"`
}

func userView(u storage.User) gin.H {
	return gin.H{
		"user_id":   u.ID,
		"email":     u.Email,
		"full_name": u.FullName,
		"role":      u.Role,
		"plan":      u.Plan,
	}
}

func (s *Server) register(c *gin.Context) {
	var req credentials
	if !bindJSON(c, &req) {
		return
	}
	token, u, err := s.auth.Register(c.Request.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer", "user": userView(u)})
}

func (s *Server) login(c *gin.Context) {
	var req credentials
	if !bindJSON(c, &req) {
		return
	}
	token, u, err := s.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer", "user": userView(u)})
}

func (s *Server) me(c *gin.Context) {
	u := currentUser(c)
	count, err := s.ledger.Count(c.Request.Context(), u.ID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	view := userView(u)
	view["chat_count"] = count
	view["chat_limit"] = s.ledger.Limit(u.Plan)
	if u.VerifiedPhone != nil {
		view["verified_phone"] = *u.VerifiedPhone
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) sendPhoneCode(c *gin.Context) {
	u := currentUser(c)
	phone := c.Param("phone")
	code, err := s.phone.SendCode(c.Request.Context(), u.ID, phone)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Verification code sent", "phone": phone, "demo_code": code})
}

type phoneVerification struct {
	Phone string `json:"phone" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

func (s *Server) verifyPhone(c *gin.Context) {
	var req phoneVerification
	if !bindJSON(c, &req) {
		return
	}
	if err := s.phone.Verify(c.Request.Context(), currentUser(c).ID, req.Phone, req.Code); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Phone verified successfully", "phone": req.Phone})
}
