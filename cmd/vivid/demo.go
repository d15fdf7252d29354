package main

import (
	"strconv"

	"github.com/vivid-go/vivid/pkg/live"
)

func demoRoutes() *live.Routes {
	return live.NewRoutes().
		Add(live.Route{
			Pattern: "/",
			Module:  "home",
			Action:  "index",
			New:     func() live.View { return &homeView{} },
		}).
		Add(live.Route{
			Pattern: "/counter/{id}",
			Module:  "counter",
			Action:  "show",
			New:     func() live.View { return &counterView{} },
		})
}

// homeView lists the demo counters.
type homeView struct{}

func (v *homeView) Mount(params map[string]string, session map[string]any, s *live.Socket) live.Outcome {
	s.Assign("page_title", "vivid demo")
	s.Assign("counters", []string{"1", "2", "3"})
	return live.NoReply()
}

func (v *homeView) HandleEvent(event string, payload map[string]any, s *live.Socket) live.Outcome {
	switch event {
	case "open":
		id, _ := payload["id"].(string)
		if id == "" {
			id = "1"
		}
		return live.Navigate(live.PushRedirect("/counter/" + id))
	default:
		return live.NoReply()
	}
}

// counterView is a per-id counter. The count survives patches between
// counter ids because patch keeps the process alive; it resets on
// redirects because those tear the process down.
type counterView struct {
	count int
}

func (v *counterView) Mount(params map[string]string, session map[string]any, s *live.Socket) live.Outcome {
	if resume, ok := session["_resume"].(map[string]any); ok {
		switch n := resume["count"].(type) {
		case int:
			v.count = n
		case float64:
			v.count = int(n)
		}
	}
	s.Assign("page_title", "counter")
	s.Assign("count", v.count)
	return live.NoReply()
}

func (v *counterView) HandleParams(params map[string]string, uri string, s *live.Socket) live.Outcome {
	s.Assign("id", params["id"])
	if step, err := strconv.Atoi(params["step"]); err == nil && step > 0 {
		s.Assign("step", step)
	} else {
		s.Assign("step", 1)
	}
	return live.NoReply()
}

func (v *counterView) HandleEvent(event string, payload map[string]any, s *live.Socket) live.Outcome {
	switch event {
	case "inc":
		v.count += s.MustFetch("step").(int)
	case "dec":
		v.count -= s.MustFetch("step").(int)
	case "reset":
		v.count = 0
	case "home":
		return live.Navigate(live.PushRedirect("/"))
	case "close":
		return live.StopNormal()
	}
	s.Assign("count", v.count)
	return live.NoReply()
}
