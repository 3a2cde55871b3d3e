package oauth

// loginSuccessHTML is served after a successful callback so the user can
// close the browser tab and return to the terminal.
const loginSuccessHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Signed in</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #f6f8fa;
            color: #1f2328;
        }
        .card {
            background: #ffffff;
            border: 1px solid #d1d9e0;
            border-radius: 12px;
            padding: 48px 56px;
            text-align: center;
            box-shadow: 0 1px 3px rgba(31, 35, 40, 0.08);
        }
        .check {
            font-size: 48px;
            margin-bottom: 16px;
        }
        h1 {
            font-size: 22px;
            margin: 0 0 8px;
        }
        p {
            color: #59636e;
            margin: 0;
        }
    </style>
</head>
<body>
    <div class="card">
        <div class="check">&#10003;</div>
        <h1>GitHub sign-in complete</h1>
        <p>You can close this tab and return to the terminal.</p>
    </div>
</body>
</html>`
