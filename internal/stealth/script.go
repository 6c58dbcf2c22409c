package stealth

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voxleads/chimera/internal/mission"
)

// GenerateScript renders the JavaScript patch set for a fingerprint. The
// script must be installed before any page script runs; the browser session
// injects it via Page.addScriptToEvaluateOnNewDocument.
func GenerateScript(fp mission.Fingerprint) string {
	languages, _ := json.Marshal([]string{fp.Locale, strings.Split(fp.Locale, "-")[0]})

	var b strings.Builder
	// navigator.webdriver is the first thing every detector checks.
	b.WriteString(`
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
delete Navigator.prototype.webdriver;
`)
	fmt.Fprintf(&b, `
Object.defineProperty(navigator, 'platform', { get: () => %q });
Object.defineProperty(navigator, 'language', { get: () => %q });
Object.defineProperty(navigator, 'languages', { get: () => %s });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
`, fp.Platform, fp.Locale, languages)

	fmt.Fprintf(&b, `
const webglGetParameter = WebGLRenderingContext.prototype.getParameter;
WebGLRenderingContext.prototype.getParameter = function (parameter) {
  if (parameter === 37445) return %q;
  if (parameter === 37446) return %q;
  return webglGetParameter.call(this, parameter);
};
if (typeof WebGL2RenderingContext !== 'undefined') {
  const webgl2GetParameter = WebGL2RenderingContext.prototype.getParameter;
  WebGL2RenderingContext.prototype.getParameter = function (parameter) {
    if (parameter === 37445) return %q;
    if (parameter === 37446) return %q;
    return webgl2GetParameter.call(this, parameter);
  };
}
`, fp.WebGLVendor, fp.WebGLRenderer, fp.WebGLVendor, fp.WebGLRenderer)

	fmt.Fprintf(&b, `
const canvasSeed = %d;
const toDataURL = HTMLCanvasElement.prototype.toDataURL;
HTMLCanvasElement.prototype.toDataURL = function (...args) {
  const ctx = this.getContext('2d');
  if (ctx && this.width > 0 && this.height > 0) {
    const imageData = ctx.getImageData(0, 0, this.width, this.height);
    for (let i = 0; i < imageData.data.length; i += 997) {
      imageData.data[i] = imageData.data[i] ^ (canvasSeed & 0x3);
    }
    ctx.putImageData(imageData, 0, 0);
  }
  return toDataURL.apply(this, args);
};
`, fp.CanvasSeed)

	fmt.Fprintf(&b, `
const audioNoise = %g;
const getChannelData = AudioBuffer.prototype.getChannelData;
AudioBuffer.prototype.getChannelData = function (...args) {
  const data = getChannelData.apply(this, args);
  for (let i = 0; i < data.length; i += 100) {
    data[i] += (Math.random() - 0.5) * audioNoise;
  }
  return data;
};
`, fp.AudioNoise)

	fmt.Fprintf(&b, `
Object.defineProperty(screen, 'width', { get: () => %d });
Object.defineProperty(screen, 'height', { get: () => %d });
Object.defineProperty(window, 'devicePixelRatio', { get: () => %g });
`, fp.ViewportWidth, fp.ViewportHeight, fp.PixelRatio)

	return b.String()
}
