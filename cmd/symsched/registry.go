package main

// Blank imports register every compiled module with the core registry.
import (
	_ "github.com/ThirdKeyAI/symbiont-sched/internal/delivery"
	_ "github.com/ThirdKeyAI/symbiont-sched/internal/dispatch"
	_ "github.com/ThirdKeyAI/symbiont-sched/internal/gateway"
	_ "github.com/ThirdKeyAI/symbiont-sched/modules/delivery/email"
	_ "github.com/ThirdKeyAI/symbiont-sched/modules/delivery/local"
	_ "github.com/ThirdKeyAI/symbiont-sched/modules/delivery/slack"
	_ "github.com/ThirdKeyAI/symbiont-sched/modules/delivery/webhook"
	_ "github.com/ThirdKeyAI/symbiont-sched/modules/store/sqlite"
)
