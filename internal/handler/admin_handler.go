package handler

import (
	"errors"
	"net/http"

	"github.com/gallerydesk/internal/service"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"pkt.systems/pslog"
)

const identityContextKey = "__identity"

// ShowLoginPage 渲染登录页面
func (a *API) ShowLoginPage(c *gin.Context) {
	if id, ok := sessionUserID(c); ok && id != 0 {
		c.Redirect(http.StatusFound, "/admin/dashboard")
		return
	}
	a.renderHTML(c, http.StatusOK, "login.html", gin.H{
		"title": "管理员登录",
	})
}

// Login 处理用户登录请求
func (a *API) Login(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")

	user, err := a.users.Authenticate(username, password)
	if err != nil {
		status := http.StatusInternalServerError
		message := "登录失败，请稍后再试"
		if errors.Is(err, service.ErrInvalidCredentials) {
			status = http.StatusUnauthorized
			message = "用户名或密码错误"
		} else {
			c.Error(err)
		}
		a.renderHTML(c, status, "login.html", gin.H{
			"title":    "管理员登录",
			"error":    message,
			"username": username,
		})
		return
	}

	// 设置会话
	session := sessions.Default(c)
	session.Set("user_id", user.ID)
	session.Set("username", user.Username)
	if err := session.Save(); err != nil {
		c.Error(err)
		a.renderHTML(c, http.StatusInternalServerError, "login.html", gin.H{"title": "管理员登录", "error": "会话保存失败"})
		return
	}

	pslog.Ctx(c.Request.Context()).Info("dashboard login", "user", user.Username)
	c.Redirect(http.StatusFound, "/admin/dashboard")
}

// Logout 处理用户登出，并丢弃未保存的编辑会话
func (a *API) Logout(c *gin.Context) {
	session := sessions.Default(c)
	if username, ok := session.Get("username").(string); ok && a.sessions != nil {
		a.sessions.Drop(username)
	}
	session.Clear()
	_ = session.Save()
	c.Redirect(http.StatusFound, "/")
}

// ShowDashboard 渲染图集编辑面板
func (a *API) ShowDashboard(c *gin.Context) {
	who := currentIdentity(c)
	data := gin.H{
		"title":    "图集管理",
		"username": who.Username,
		"name":     who.Name,
		"branch":   a.publisher.Branch(),
		"source":   a.source.Describe(),
	}

	edit, err := a.sessions.Get(c.Request.Context(), who.Username)
	if err != nil {
		c.Error(err)
		data["loadError"] = err.Error()
	} else {
		data["state"] = edit.State()
	}

	history, err := a.history.Recent(10)
	if err != nil {
		c.Error(err)
	}
	data["history"] = history

	a.renderHTML(c, http.StatusOK, "dashboard.html", data)
}

// AuthRequired 校验登录状态；未登录的页面请求重定向到站点首页。
func (a *API) AuthRequired() gin.HandlerFunc {
	return a.requireIdentity(func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/")
		c.Abort()
	})
}

// APIAuthRequired 与 AuthRequired 相同，但对 JSON 接口返回 401。
func (a *API) APIAuthRequired() gin.HandlerFunc {
	return a.requireIdentity(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请先登录"})
	})
}

func (a *API) requireIdentity(deny gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := sessionUserID(c)
		if !ok {
			deny(c)
			return
		}
		who, err := a.users.Identity(userID)
		if err != nil {
			if !errors.Is(err, service.ErrAuthRequired) {
				c.Error(err)
			}
			session := sessions.Default(c)
			session.Clear()
			_ = session.Save()
			deny(c)
			return
		}
		c.Set(identityContextKey, who)
		withUserLogger(c, who.Username)
		c.Next()
	}
}

func sessionUserID(c *gin.Context) (uint, bool) {
	session := sessions.Default(c)
	id, ok := session.Get("user_id").(uint)
	return id, ok && id != 0
}

func currentIdentity(c *gin.Context) service.Identity {
	if value, exists := c.Get(identityContextKey); exists {
		if who, ok := value.(service.Identity); ok {
			return who
		}
	}
	return service.Identity{}
}
