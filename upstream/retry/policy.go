package retry

import (
	"math"
	"time"
)

// Policy governa as tentativas de uma chamada.
type Policy struct {
	// MaxRetries é quantas vezes a chamada pode ser repetida depois da primeira.
	MaxRetries int `yaml:"max_retries"`
	// InitialDelay é a espera antes do primeiro retry.
	InitialDelay time.Duration `yaml:"initial_delay"`
	// Multiplier multiplica a espera a cada retry (>= 1).
	Multiplier float64 `yaml:"multiplier"`
	// MaxDelay limita a espera de um retry. 0 = sem limite.
	MaxDelay time.Duration `yaml:"max_delay"`
}

// DefaultPolicy: 3 retries, 1s inicial, dobrando.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, InitialDelay: time.Second, Multiplier: 2}
}

// NoRetry faz a primeira falha ser terminal.
func NoRetry() Policy {
	return Policy{MaxRetries: 0, InitialDelay: time.Second, Multiplier: 2}
}

func (p Policy) normalized() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxDelay < 0 {
		p.MaxDelay = 0
	}
	return p
}

// next calcula a espera seguinte.
func (p Policy) next(d time.Duration) time.Duration {
	f := float64(d) * p.Multiplier
	if f >= math.MaxInt64 {
		d = time.Duration(math.MaxInt64)
	} else {
		d = time.Duration(f)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Delays devolve as esperas que a política produz, em ordem.
func (p Policy) Delays() []time.Duration {
	p = p.normalized()
	out := make([]time.Duration, 0, p.MaxRetries)
	d := p.InitialDelay
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	for i := 0; i < p.MaxRetries; i++ {
		out = append(out, d)
		d = p.next(d)
	}
	return out
}

// WorstCase é o tempo máximo gasto só em esperas.
func (p Policy) WorstCase() time.Duration {
	var total time.Duration
	for _, d := range p.Delays() {
		total = addSaturating(total, d)
	}
	return total
}

// addSaturating soma durações não negativas parando em math.MaxInt64.
func addSaturating(a, b time.Duration) time.Duration {
	if b > time.Duration(math.MaxInt64)-a {
		return time.Duration(math.MaxInt64)
	}
	return a + b
}

// AttemptsBudget é o tempo máximo de uma chamada completa: cada tentativa pode
// levar até perAttempt, mais todas as esperas entre elas.
func (p Policy) AttemptsBudget(perAttempt time.Duration) time.Duration {
	p = p.normalized()
	total := p.WorstCase()
	if perAttempt <= 0 {
		return total
	}
	for i := 0; i <= p.MaxRetries; i++ {
		total = addSaturating(total, perAttempt)
	}
	return total
}
