// Package algorithms contém as transições de estado puras dos três algoritmos
// de limitação. Nenhuma função aqui faz I/O; os adapters de storage executam
// essas transições de forma atômica (mutex no storage em memória, script Lua
// no Redis) e usam as variantes Peek para leituras sem mutação.
//
// # Fixed Window
//
// O tempo é particionado em épocas de tamanho window (floor(now/window)). Cada
// verificação incrementa o contador da época corrente e é permitida enquanto o
// valor pós-incremento for <= limit.
//
// Duas rajadas completas podem cair coladas na fronteira entre épocas (uma no
// fim da época N, outra no início da N+1), admitindo até 2×limit num intervalo
// menor que window. Esse comportamento é uma propriedade conhecida do
// algoritmo e é mantido.
//
// # Sliding Window Counter
//
// Aproxima uma janela deslizante com dois contadores de épocas adjacentes:
//
//	weighted = current + previous × (1 − elapsed/window)
//
// A requisição é permitida se weighted < limit, e só então o contador corrente
// é incrementado. Épocas anteriores à anterior são descartadas.
//
// # Token Bucket
//
// Estado (tokens, lastRefill). Cada verificação reabastece o bucket pelo tempo
// decorrido, consome cost tokens se houver saldo e sempre persiste o saldo
// reabastecido. ResetAt é o instante em que o bucket estará cheio.
package algorithms
