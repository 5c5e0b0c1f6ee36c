package directory

import (
	"html/template"
	"net/http"
	"strings"
)

// loginPage is deliberately small: the provider is usually fronted by the
// host application's own UI and this form only serves standalone operation.
var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Sign In</title>
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: 'Segoe UI', system-ui, sans-serif;
            background: linear-gradient(135deg, #1a1a2e 0%, #16213e 100%);
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            color: #e4e4e7;
        }
        .container {
            background: rgba(255, 255, 255, 0.05);
            border: 1px solid rgba(255, 255, 255, 0.1);
            border-radius: 16px;
            padding: 40px;
            width: 100%;
            max-width: 420px;
        }
        h1 { font-size: 24px; text-align: center; margin-bottom: 24px; color: #fff; }
        .form-group { margin-bottom: 20px; }
        label { display: block; font-size: 14px; margin-bottom: 8px; color: #d4d4d8; }
        input {
            width: 100%;
            padding: 12px 16px;
            border: 1px solid rgba(255, 255, 255, 0.1);
            border-radius: 8px;
            background: rgba(0, 0, 0, 0.2);
            color: #fff;
            font-size: 16px;
        }
        button {
            width: 100%;
            padding: 14px;
            background: linear-gradient(135deg, #6366f1 0%, #8b5cf6 100%);
            border: none;
            border-radius: 8px;
            color: #fff;
            font-size: 16px;
            font-weight: 600;
            cursor: pointer;
        }
        .error {
            background: rgba(239, 68, 68, 0.1);
            border: 1px solid rgba(239, 68, 68, 0.2);
            color: #fca5a5;
            padding: 12px;
            border-radius: 8px;
            margin-bottom: 20px;
            font-size: 14px;
        }
    </style>
</head>
<body>
    <div class="container">
        <h1>Sign In</h1>
        {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
        <form method="POST" action="/login">
            <input type="hidden" name="next" value="{{.Next}}">
            <div class="form-group">
                <label for="username">Username</label>
                <input type="text" id="username" name="username" required>
            </div>
            <div class="form-group">
                <label for="password">Password</label>
                <input type="password" id="password" name="password" required>
            </div>
            <button type="submit">Sign In</button>
        </form>
    </div>
</body>
</html>`))

type loginPageData struct {
	Error string
	Next  string
}

// HandleLoginPage renders the sign-in form.
func (s *Service) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.renderLogin(w, "", sanitizeNext(r.URL.Query().Get("next")))
}

// HandleLogin processes the sign-in form and starts a session.
func (s *Service) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form data", http.StatusBadRequest)
		return
	}

	username := r.FormValue("username")
	next := sanitizeNext(r.FormValue("next"))

	user, err := s.Authenticate(r.Context(), username, r.FormValue("password"))
	if err != nil {
		s.log.WithField("username", username).Warn("login failed")
		s.renderLogin(w, "Invalid username or password", next)
		return
	}

	if err := s.StartSession(r.Context(), w, user.ID); err != nil {
		s.log.WithError(err).Error("failed to start session")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.log.WithField("user_id", user.ID).Info("user signed in")
	http.Redirect(w, r, next, http.StatusFound)
}

// HandleLogout ends the browser session.
func (s *Service) HandleLogout(w http.ResponseWriter, r *http.Request) {
	s.EndSession(r.Context(), w, r)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Service) renderLogin(w http.ResponseWriter, errMsg, next string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginTemplate.Execute(w, loginPageData{Error: errMsg, Next: next}); err != nil {
		s.log.WithError(err).Error("failed to render login page")
	}
}

// sanitizeNext constrains post-login redirects to local paths so the login
// form cannot be used as an open redirector.
func sanitizeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return "/"
	}
	return next
}
