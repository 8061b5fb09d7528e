package proxy

import (
	"fmt"
	"net/http"
)

const loginPageHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sign in — %s</title>
<link rel="stylesheet" href="/admin/assets/style.css">
</head>
<body>
<main class="panel">
  <h1>Wallet sign-in required</h1>
  <p>Sign the identity transaction with the wallet that owns this agent,
  then submit it below. Nothing is broadcast by your wallet; this gateway
  pushes the signed transaction itself.</p>
  <button id="connect">Connect wallet &amp; sign</button>
  <p id="status" class="muted"></p>
  <script>
    const btn = document.getElementById("connect");
    const status = document.getElementById("status");
    btn.addEventListener("click", async () => {
      if (!window.agentWallet) {
        status.textContent = "No wallet extension detected.";
        return;
      }
      status.textContent = "Waiting for signature...";
      const proof = await window.agentWallet.signIdentityProof();
      const res = await fetch("/auth/authorize", {
        method: "POST",
        headers: { "Content-Type": "application/json" },
        body: JSON.stringify(proof),
      });
      const body = await res.json();
      if (body.success) {
        document.cookie = "agentgate_session=" + body.token + "; path=/; max-age=86400";
        window.location.replace("/");
      } else {
        status.textContent = body.error ? body.error.message : "Sign-in failed.";
      }
    });
  </script>
</main>
</body>
</html>
`

const loadingPageHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Starting — %s</title>
<link rel="stylesheet" href="/admin/assets/style.css">
</head>
<body>
<main class="panel">
  <h1>Your agent is waking up</h1>
  <p class="muted">Cold starts can take up to a minute or two. This page
  reloads automatically once the agent is ready.</p>
  <div class="spinner"></div>
  <script>
    async function poll() {
      try {
        const res = await fetch("/api/status");
        const body = await res.json();
        if (body.ok) {
          window.location.reload();
          return;
        }
      } catch (e) {
        // keep polling
      }
      setTimeout(poll, 2000);
    }
    setTimeout(poll, 2000);
  </script>
</main>
</body>
</html>
`

const adminStyleCSS = `body {
  margin: 0;
  font-family: system-ui, sans-serif;
  background: #0b0e14;
  color: #e6e6e6;
  display: flex;
  min-height: 100vh;
  align-items: center;
  justify-content: center;
}
.panel {
  max-width: 28rem;
  padding: 2rem;
  border: 1px solid #2a2f3a;
  border-radius: 12px;
  background: #121722;
}
.muted { color: #9aa4b2; }
button {
  padding: 0.6rem 1.2rem;
  border: 0;
  border-radius: 8px;
  background: #3b82f6;
  color: white;
  cursor: pointer;
}
.spinner {
  margin: 1.5rem auto 0;
  width: 2rem;
  height: 2rem;
  border: 3px solid #2a2f3a;
  border-top-color: #3b82f6;
  border-radius: 50%;
  animation: spin 0.9s linear infinite;
}
@keyframes spin { to { transform: rotate(360deg); } }
`

func writeLoginPage(w http.ResponseWriter, serviceName string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, loginPageHTML, serviceName)
}

func writeLoadingPage(w http.ResponseWriter, serviceName string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, loadingPageHTML, serviceName)
}

func writeAdminStyle(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	fmt.Fprint(w, adminStyleCSS)
}
