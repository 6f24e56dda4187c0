package renderer

import (
	"html/template"
)

// CallbackName is the onload callback the vendor loader invokes. It is the
// only global the bootstrap script defines.
const CallbackName = "_captchaCallback"

// PlaceholderClass marks the elements the bootstrap script renders widgets
// into.
const PlaceholderClass = "_g-recaptcha"

// Host page hooks. Both are optional globals defined by the embedding page.
const (
	BeforeSubmitHook = "_beforeSubmit"
	SubmitEventHook  = "_submitEvent"
)

var polyfillTemplate = template.Must(template.New("polyfill").Parse(
	`<script src="{{.Src}}"{{if .Nonce}} nonce="{{.Nonce}}"{{end}}></script>
`))

var placeholderTemplate = template.Must(template.New("placeholder").Parse(
	`<div class="_g-recaptcha" id="{{.ID}}" data-badge="{{.Badge}}"></div>
`))

// bootstrapTemplate wires every placeholder's ancestor form to the vendor
// widget. Widget state lives in the closure; the vendor callback is the
// only name written to window.
var bootstrapTemplate = template.Must(template.New("bootstrap").Parse(
	`{{if .HideBadge}}<style{{if .Nonce}} nonce="{{.Nonce}}"{{end}}>.grecaptcha-badge{display:none !important;}</style>
{{end}}<script{{if .Nonce}} nonce="{{.Nonce}}"{{end}}>
(function (w, d) {
  var cfg = {sitekey: {{.SiteKey}}, badge: {{.Badge}}, src: {{.ScriptURL}}, nonce: {{.Nonce}}};
  var widgets = {};
  var pageReady = false;
  var apiReady = false;
  var started = false;
  var pending = [];

  function submitter(id) {
    return function () {
      var entry = widgets[id];
      if (typeof w._submitEvent === 'function') {
        w._submitEvent(entry.form);
      } else {
        entry.form.submit();
      }
      w.grecaptcha.reset(entry.widget);
    };
  }

  function executor(id) {
    return function (e) {
      e.preventDefault();
      if (typeof w._beforeSubmit === 'function' && !w._beforeSubmit(e)) {
        return;
      }
      w.grecaptcha.execute(widgets[id].widget);
    };
  }

  // Submissions made before the widgets exist wait for wire() instead of
  // posting without a token.
  function hold(e) {
    var form = e.target;
    if (started || !form.querySelector || !form.querySelector('._g-recaptcha')) {
      return;
    }
    e.preventDefault();
    if (typeof w._beforeSubmit === 'function' && !w._beforeSubmit(e)) {
      return;
    }
    if (pending.indexOf(form) < 0) {
      pending.push(form);
    }
    ready();
  }

  function flush() {
    var forms = pending;
    pending = [];
    for (var i = 0; i < forms.length; i++) {
      for (var id in widgets) {
        if (widgets[id].form === forms[i]) {
          w.grecaptcha.execute(widgets[id].widget);
          break;
        }
      }
    }
  }
{{if .HideBadge}}
  function hideBadge() {
    var badges = d.querySelectorAll('.grecaptcha-badge');
    for (var i = 0; i < badges.length; i++) {
      badges[i].style.setProperty('display', 'none', 'important');
    }
  }
{{end}}{{if .Debug}}
  function debug() {
    var names = ['_captchaCallback', 'grecaptcha', '_beforeSubmit', '_submitEvent'];
    for (var i = 0; i < names.length; i++) {
      console.log('[recaptcha] ' + names[i] + ': ' + typeof w[names[i]]);
    }
  }
{{end}}
  function wire() {
    if (started || !pageReady || !apiReady) {
      return;
    }
    started = true;
    d.removeEventListener('submit', hold, true);
    var nodes = d.querySelectorAll('._g-recaptcha');
    for (var i = 0; i < nodes.length; i++) {
      var node = nodes[i];
      var form = node.closest('form');
      if (!form || widgets[node.id]) {
        continue;
      }
      widgets[node.id] = {form: form, widget: null};
      widgets[node.id].widget = w.grecaptcha.render(node.id, {
        sitekey: cfg.sitekey,
        size: 'invisible',
        badge: cfg.badge,
        callback: submitter(node.id)
      });
      form.addEventListener('submit', executor(node.id));
    }{{if .HideBadge}}
    hideBadge();{{end}}{{if .Debug}}
    debug();{{end}}
    flush();
  }

  w._captchaCallback = function () {
    apiReady = true;
    wire();
  };

  d.addEventListener('submit', hold, true);
{{if .LazyLoad}}
  var triggers = ['scroll', 'click', 'keydown'];

  function load() {
    var s = d.createElement('script');
    s.src = cfg.src;
    s.async = true;
    s.defer = true;
    if (cfg.nonce) {
      s.setAttribute('nonce', cfg.nonce);
    }
    d.head.appendChild(s);
  }

  function ready() {
    for (var i = 0; i < triggers.length; i++) {
      w.removeEventListener(triggers[i], ready, true);
    }
    if (pageReady) {
      return;
    }
    pageReady = true;
    load();
    wire();
  }

  for (var i = 0; i < triggers.length; i++) {
    w.addEventListener(triggers[i], ready, true);
  }
{{else}}
  function ready() {
    pageReady = true;
    wire();
  }

  if (d.readyState === 'complete') {
    ready();
  } else {
    w.addEventListener('load', ready);
  }
{{end}}})(window, document);
</script>
{{if not .LazyLoad}}<script src="{{.ScriptURL}}" async defer{{if .Nonce}} nonce="{{.Nonce}}"{{end}}></script>
{{end}}`))
