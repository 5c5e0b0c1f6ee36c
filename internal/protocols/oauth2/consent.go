package oauth2

import (
	"html/template"
	"net/http"
)

var consentTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Authorize Application</title>
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
        h1 { font-size: 22px; text-align: center; margin-bottom: 12px; color: #fff; }
        .client-info {
            background: rgba(99, 102, 241, 0.1);
            border: 1px solid rgba(99, 102, 241, 0.2);
            border-radius: 8px;
            padding: 16px;
            margin-bottom: 24px;
            text-align: center;
            color: #a5b4fc;
            font-size: 14px;
        }
        .client-info strong { color: #fff; }
        .scopes { margin-bottom: 24px; font-size: 13px; color: #a1a1aa; }
        .scopes span {
            display: inline-block;
            background: rgba(99, 102, 241, 0.1);
            padding: 4px 8px;
            border-radius: 4px;
            margin: 2px;
        }
        .buttons { display: flex; gap: 12px; }
        button {
            flex: 1;
            padding: 14px;
            border: none;
            border-radius: 8px;
            font-size: 15px;
            font-weight: 600;
            cursor: pointer;
        }
        .approve { background: linear-gradient(135deg, #6366f1 0%, #8b5cf6 100%); color: #fff; }
        .deny { background: rgba(255, 255, 255, 0.08); color: #d4d4d8; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Authorize Application</h1>
        <div class="client-info">
            <strong>{{.ClientName}}</strong> is requesting access to your account
        </div>
        <div class="scopes">
            Requested permissions:
            {{range .Scopes}}<span>{{.}}</span>{{end}}
        </div>
        <form method="POST" action="/oauth2/authorize">
            <div class="buttons">
                <button class="approve" type="submit" name="approve" value="1">Allow</button>
                <button class="deny" type="submit" name="approve" value="0">Deny</button>
            </div>
        </form>
    </div>
</body>
</html>`))

type consentPageData struct {
	ClientName string
	Scopes     []string
}

func (h *Handler) renderConsent(w http.ResponseWriter, clientName string, scopes []string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := consentTemplate.Execute(w, consentPageData{ClientName: clientName, Scopes: scopes}); err != nil {
		h.log.WithError(err).Error("failed to render consent page")
	}
}
