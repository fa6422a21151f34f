package session

import "net/http"

// Directive describes what a handler has to write back to the client: an
// optional session cookie change and an optional status/redirect. The zero
// value writes nothing.
type Directive struct {
	Status   int
	Location string
	Cookie   *http.Cookie
}

// Redirect returns a copy of the directive that also redirects to location
// with 302 Found.
func (d Directive) Redirect(location string) Directive {
	d.Status = http.StatusFound
	d.Location = location
	return d
}

// IsZero reports whether the directive carries nothing to write.
func (d Directive) IsZero() bool {
	return d.Status == 0 && d.Location == "" && d.Cookie == nil
}

// Clears reports whether the directive removes the session artifact.
func (d Directive) Clears() bool {
	return d.Cookie != nil && d.Cookie.MaxAge < 0
}

// Apply writes the directive to w. The cookie is always set before the status
// line so it travels with the redirect.
func (d Directive) Apply(w http.ResponseWriter) {
	if d.Cookie != nil {
		http.SetCookie(w, d.Cookie)
	}

	if d.Status == 0 {
		return
	}

	if d.Location != "" {
		w.Header().Set("Location", d.Location)
	}
	// session responses vary per user and must never land in a shared cache
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(d.Status)
}
