package bypass

import "testing"

func TestDetectCloudflare(t *testing.T) {
	res := Response{StatusCode: 200, Headers: map[string][]string{"Server": {"nginx"}}, Body: []byte("OK")}
	if detected, _ := detectCloudflare(res); detected {
		t.Errorf("expected not detected")
	}

	res = Response{StatusCode: 403, Headers: map[string][]string{"Server": {"cloudflare"}}, Body: []byte("Access Denied")}
	if detected, src := detectCloudflare(res); !detected || src != "Cloudflare" {
		t.Errorf("expected Cloudflare detection by header")
	}

	res = Response{StatusCode: 503, Headers: map[string][]string{}, Body: []byte("<html>... cf-turnstile ...</html>")}
	if detected, src := detectCloudflare(res); !detected || src != "Cloudflare" {
		t.Errorf("expected Cloudflare detection by body")
	}
}

func TestDetectAkamai(t *testing.T) {
	res := Response{StatusCode: 403, Headers: map[string][]string{"Server": {"AkamaiGHost"}}, Body: []byte("")}
	if detected, src := detectAkamai(res); !detected || src != "Akamai" {
		t.Errorf("expected Akamai detection by header")
	}

	res = Response{StatusCode: 403, Headers: map[string][]string{}, Body: []byte("Access Denied... Reference #123.456")}
	if detected, src := detectAkamai(res); !detected || src != "Akamai" {
		t.Errorf("expected Akamai detection by body")
	}
}

func TestDetectDataDome(t *testing.T) {
	res := Response{StatusCode: 403, Headers: map[string][]string{"X-DataDome": {"1"}}, Body: []byte("")}
	if detected, src := detectDataDome(res); !detected || src != "DataDome" {
		t.Errorf("expected DataDome detection by header")
	}

	res = Response{StatusCode: 403, Headers: map[string][]string{}, Body: []byte("script src='https://geo.captcha-delivery.com/...'")}
	if detected, src := detectDataDome(res); !detected || src != "DataDome" {
		t.Errorf("expected DataDome detection by body")
	}
}

func TestDetectPerimeterX(t *testing.T) {
	res := Response{StatusCode: 403, Headers: map[string][]string{"X-Px-Captcha": {"required"}}, Body: []byte("")}
	if detected, src := detectPerimeterX(res); !detected || src != "PerimeterX" {
		t.Errorf("expected PerimeterX detection by header")
	}

	res = Response{StatusCode: 403, Headers: map[string][]string{}, Body: []byte("window._pxBlock = true;")}
	if detected, src := detectPerimeterX(res); !detected || src != "PerimeterX" {
		t.Errorf("expected PerimeterX detection by body")
	}
}

func TestAnalyze(t *testing.T) {
	detectors := DefaultDetectors()

	res := Response{StatusCode: 403, Headers: map[string][]string{"X-DataDome": {"1"}}, Body: []byte("")}
	detected, src := Analyze(res, detectors)
	if !detected || src != "DataDome" {
		t.Errorf("expected DataDome detection, got detected=%v src=%q", detected, src)
	}

	safe := Response{StatusCode: 200, Headers: map[string][]string{}, Body: []byte("hello")}
	detectedSafe, srcSafe := Analyze(safe, detectors)
	if detectedSafe || srcSafe != "" {
		t.Errorf("expected safe response to report no detection, got detected=%v src=%q", detectedSafe, srcSafe)
	}
}
